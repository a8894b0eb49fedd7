package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const inventoryColumns = `id, supplier_id, material, color, quantity_kg, price_per_kg, lead_time_days, status, version, created_at, updated_at`

func scanInventoryItem(row rowScanner) (*InventoryItem, error) {
	var i InventoryItem
	err := row.Scan(&i.ID, &i.SupplierID, &i.Material, &i.Color, &i.QuantityKg, &i.PricePerKg,
		&i.LeadTimeDays, &i.Status, &i.Version, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateInventoryItem inserts an item. A second item for the same
// (supplier, material, color) is a conflict.
func (r *PostgresRepository) CreateInventoryItem(ctx context.Context, tx Tx, i *InventoryItem) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO inventory_items (`+inventoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, i.ID, i.SupplierID, i.Material, i.Color, i.QuantityKg, i.PricePerKg, i.LeadTimeDays, i.Status, i.Version, i.CreatedAt, i.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: inventory item for %s/%s already exists", ErrConflict, i.Material, i.Color)
	}
	if err != nil {
		return fmt.Errorf("failed to create inventory item: %w", err)
	}
	return nil
}

// GetInventoryItemForUpdate loads an item with a row lock.
func (r *PostgresRepository) GetInventoryItemForUpdate(ctx context.Context, tx Tx, id string) (*InventoryItem, error) {
	pgTx := tx.(*PostgresTx).tx

	item, err := scanInventoryItem(pgTx.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "inventory item", id)
	}
	return item, nil
}

// FindInventoryItem looks up the supplier's item for an exact (material, color).
func (r *PostgresRepository) FindInventoryItem(ctx context.Context, supplierID, material, color string) (*InventoryItem, error) {
	item, err := scanInventoryItem(r.db.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE supplier_id = $1 AND material = $2 AND color = $3
	`, supplierID, material, color))
	if err != nil {
		return nil, notFound(err, "inventory item", material+"/"+color)
	}
	return item, nil
}

// FindInventoryItemForUpdate is FindInventoryItem with a row lock.
func (r *PostgresRepository) FindInventoryItemForUpdate(ctx context.Context, tx Tx, supplierID, material, color string) (*InventoryItem, error) {
	pgTx := tx.(*PostgresTx).tx

	item, err := scanInventoryItem(pgTx.QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE supplier_id = $1 AND material = $2 AND color = $3
		FOR UPDATE
	`, supplierID, material, color))
	if err != nil {
		return nil, notFound(err, "inventory item", material+"/"+color)
	}
	return item, nil
}

// UpdateInventoryItem writes the item if its stored version is still
// expectedVersion.
func (r *PostgresRepository) UpdateInventoryItem(ctx context.Context, tx Tx, i *InventoryItem, expectedVersion int) error {
	pgTx := tx.(*PostgresTx).tx

	tag, err := pgTx.Exec(ctx, `
		UPDATE inventory_items
		SET quantity_kg = $1, price_per_kg = $2, lead_time_days = $3, status = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8
	`, i.QuantityKg, i.PricePerKg, i.LeadTimeDays, i.Status, i.Version, i.UpdatedAt, i.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: inventory item %s was modified concurrently", ErrConflict, i.ID)
	}
	return nil
}

// ListInventoryItems returns a supplier's items.
func (r *PostgresRepository) ListInventoryItems(ctx context.Context, supplierID string) ([]InventoryItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items WHERE supplier_id = $1
		ORDER BY material, color
	`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	return collect(rows, scanInventoryItem)
}

const requestColumns = `id, product_model_id, designer_id, material, color, quantity_kg, deadline, supplier_id, notes, status,
	rejection_reason, rejection_comment, prepared_quantity_kg, batch_lot_id, document_url, created_at, updated_at`

func scanMaterialRequest(row rowScanner) (*MaterialRequest, error) {
	var m MaterialRequest
	err := row.Scan(&m.ID, &m.ProductModelID, &m.DesignerID, &m.Material, &m.Color, &m.QuantityKg, &m.Deadline,
		&m.SupplierID, &m.Notes, &m.Status, &m.RejectionReason, &m.RejectionComment, &m.PreparedQuantityKg,
		&m.BatchLotID, &m.DocumentURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMaterialRequest inserts a request.
func (r *PostgresRepository) CreateMaterialRequest(ctx context.Context, tx Tx, m *MaterialRequest) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO material_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, m.ID, m.ProductModelID, m.DesignerID, m.Material, m.Color, m.QuantityKg, m.Deadline, m.SupplierID, m.Notes, m.Status,
		m.RejectionReason, m.RejectionComment, m.PreparedQuantityKg, m.BatchLotID, m.DocumentURL, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create material request: %w", err)
	}
	return nil
}

// GetMaterialRequest loads a request.
func (r *PostgresRepository) GetMaterialRequest(ctx context.Context, id string) (*MaterialRequest, error) {
	m, err := scanMaterialRequest(r.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM material_requests WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, "material request", id)
	}
	return m, nil
}

// GetMaterialRequestForUpdate loads a request with a row lock.
func (r *PostgresRepository) GetMaterialRequestForUpdate(ctx context.Context, tx Tx, id string) (*MaterialRequest, error) {
	pgTx := tx.(*PostgresTx).tx

	m, err := scanMaterialRequest(pgTx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM material_requests WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "material request", id)
	}
	return m, nil
}

// UpdateMaterialRequest writes the mutable fields of a request.
func (r *PostgresRepository) UpdateMaterialRequest(ctx context.Context, tx Tx, m *MaterialRequest) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE material_requests
		SET supplier_id = $1, status = $2, rejection_reason = $3, rejection_comment = $4,
		    prepared_quantity_kg = $5, batch_lot_id = $6, document_url = $7, updated_at = $8
		WHERE id = $9
	`, m.SupplierID, m.Status, m.RejectionReason, m.RejectionComment, m.PreparedQuantityKg, m.BatchLotID, m.DocumentURL, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update material request: %w", err)
	}
	return nil
}

// ListMaterialRequests returns requests matching filter, newest first.
func (r *PostgresRepository) ListMaterialRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error) {
	var conditions []string
	var args []any
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.DesignerID != "" {
		add("designer_id = $%d", filter.DesignerID)
	}
	if filter.SupplierID != "" {
		if filter.IncludeUnassigned {
			add("(supplier_id = $%d OR supplier_id = '')", filter.SupplierID)
		} else {
			add("supplier_id = $%d", filter.SupplierID)
		}
	}
	if filter.ProductModelID != "" {
		add("product_model_id = $%d", filter.ProductModelID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM material_requests`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list material requests: %w", err)
	}
	return collect(rows, scanMaterialRequest)
}

// LatestMaterialRequest returns the newest request of a model, or nil.
func (r *PostgresRepository) LatestMaterialRequest(ctx context.Context, productModelID string) (*MaterialRequest, error) {
	m, err := scanMaterialRequest(r.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM material_requests WHERE product_model_id = $1
		ORDER BY created_at DESC, id
		LIMIT 1
	`, productModelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest material request: %w", err)
	}
	return m, nil
}

const shipmentColumns = `id, request_id, product_model_id, supplier_id, manufacturer_id, material, color, quantity_sent_kg,
	requested_kg, batch_lot_id, document_url, shipping_date, tracking_number, status, problem_reason, problem_comment,
	received_at, confirmed_at, created_at, updated_at`

func scanShipment(row rowScanner) (*Shipment, error) {
	var s Shipment
	err := row.Scan(&s.ID, &s.RequestID, &s.ProductModelID, &s.SupplierID, &s.ManufacturerID, &s.Material, &s.Color,
		&s.QuantitySentKg, &s.RequestedKg, &s.BatchLotID, &s.DocumentURL, &s.ShippingDate, &s.TrackingNumber, &s.Status,
		&s.ProblemReason, &s.ProblemComment, &s.ReceivedAt, &s.ConfirmedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateShipment inserts a shipment. The partial unique index on request_id
// allows one live shipment per request.
func (r *PostgresRepository) CreateShipment(ctx context.Context, tx Tx, s *Shipment) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, s.ID, s.RequestID, s.ProductModelID, s.SupplierID, s.ManufacturerID, s.Material, s.Color, s.QuantitySentKg,
		s.RequestedKg, s.BatchLotID, s.DocumentURL, s.ShippingDate, s.TrackingNumber, s.Status, s.ProblemReason,
		s.ProblemComment, s.ReceivedAt, s.ConfirmedAt, s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: request %s already has a live shipment", ErrConflict, s.RequestID)
	}
	if err != nil {
		return fmt.Errorf("failed to create shipment: %w", err)
	}
	return nil
}

// GetShipmentForUpdate loads a shipment with a row lock.
func (r *PostgresRepository) GetShipmentForUpdate(ctx context.Context, tx Tx, id string) (*Shipment, error) {
	pgTx := tx.(*PostgresTx).tx

	s, err := scanShipment(pgTx.QueryRow(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "shipment", id)
	}
	return s, nil
}

// UpdateShipment writes the lifecycle fields of a shipment.
func (r *PostgresRepository) UpdateShipment(ctx context.Context, tx Tx, s *Shipment) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE shipments
		SET status = $1, problem_reason = $2, problem_comment = $3, received_at = $4, confirmed_at = $5, updated_at = $6
		WHERE id = $7
	`, s.Status, s.ProblemReason, s.ProblemComment, s.ReceivedAt, s.ConfirmedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update shipment: %w", err)
	}
	return nil
}

// LatestShipmentForRequest returns the newest shipment of a request, or nil.
func (r *PostgresRepository) LatestShipmentForRequest(ctx context.Context, requestID string) (*Shipment, error) {
	s, err := scanShipment(r.db.QueryRow(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments WHERE request_id = $1
		ORDER BY created_at DESC, id
		LIMIT 1
	`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest shipment: %w", err)
	}
	return s, nil
}

// ListShipments returns the shipments addressed to a manufacturer.
func (r *PostgresRepository) ListShipments(ctx context.Context, manufacturerID string) ([]Shipment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments WHERE manufacturer_id = $1
		ORDER BY created_at DESC, id
	`, manufacturerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	return collect(rows, scanShipment)
}

// ShipmentStats counts a manufacturer's shipments per status. It reads the
// same rows transitions write, so counts never lag a committed transition.
func (r *PostgresRepository) ShipmentStats(ctx context.Context, manufacturerID string) (ShipmentStats, error) {
	var stats ShipmentStats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COUNT(*) FILTER (WHERE status = $5)
		FROM shipments WHERE manufacturer_id = $1
	`, manufacturerID, ShipmentStatusSent, ShipmentStatusReceived, ShipmentStatusConfirmed, ShipmentStatusProblemReported).
		Scan(&stats.Pending, &stats.Received, &stats.Confirmed, &stats.Problem)
	if err != nil {
		return ShipmentStats{}, fmt.Errorf("failed to compute shipment stats: %w", err)
	}
	return stats, nil
}

const sewingColumns = `id, shipment_id, product_model_id, manufacturer_id, quantity_pieces, deadline, material_status, status,
	started_at, completed_at, proof_document_url, created_at, updated_at`

func scanSewingOrder(row rowScanner) (*SewingOrder, error) {
	var o SewingOrder
	err := row.Scan(&o.ID, &o.ShipmentID, &o.ProductModelID, &o.ManufacturerID, &o.QuantityPieces, &o.Deadline,
		&o.MaterialStatus, &o.Status, &o.StartedAt, &o.CompletedAt, &o.ProofDocumentURL, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateSewingOrder inserts an order unless the shipment already has one.
func (r *PostgresRepository) CreateSewingOrder(ctx context.Context, tx Tx, o *SewingOrder) (bool, error) {
	pgTx := tx.(*PostgresTx).tx

	tag, err := pgTx.Exec(ctx, `
		INSERT INTO sewing_orders (`+sewingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (shipment_id) DO NOTHING
	`, o.ID, o.ShipmentID, o.ProductModelID, o.ManufacturerID, o.QuantityPieces, o.Deadline, o.MaterialStatus, o.Status,
		o.StartedAt, o.CompletedAt, o.ProofDocumentURL, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create sewing order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSewingOrderForUpdate loads an order with a row lock.
func (r *PostgresRepository) GetSewingOrderForUpdate(ctx context.Context, tx Tx, id string) (*SewingOrder, error) {
	pgTx := tx.(*PostgresTx).tx

	o, err := scanSewingOrder(pgTx.QueryRow(ctx, `
		SELECT `+sewingColumns+`
		FROM sewing_orders WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "sewing order", id)
	}
	return o, nil
}

// UpdateSewingOrder writes the lifecycle fields of an order.
func (r *PostgresRepository) UpdateSewingOrder(ctx context.Context, tx Tx, o *SewingOrder) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE sewing_orders
		SET status = $1, started_at = $2, completed_at = $3, proof_document_url = $4, updated_at = $5
		WHERE id = $6
	`, o.Status, o.StartedAt, o.CompletedAt, o.ProofDocumentURL, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update sewing order: %w", err)
	}
	return nil
}

// ListSewingOrders returns a manufacturer's orders.
func (r *PostgresRepository) ListSewingOrders(ctx context.Context, manufacturerID string) ([]SewingOrder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sewingColumns+`
		FROM sewing_orders WHERE manufacturer_id = $1
		ORDER BY created_at DESC, id
	`, manufacturerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sewing orders: %w", err)
	}
	return collect(rows, scanSewingOrder)
}
