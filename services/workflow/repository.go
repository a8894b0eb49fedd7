package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence boundary of the workflow. Methods taking a Tx
// run inside the caller's transaction; the rest read from the pool.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	CreateInventoryItem(ctx context.Context, tx Tx, item *InventoryItem) error
	GetInventoryItemForUpdate(ctx context.Context, tx Tx, id string) (*InventoryItem, error)
	FindInventoryItem(ctx context.Context, supplierID, material, color string) (*InventoryItem, error)
	FindInventoryItemForUpdate(ctx context.Context, tx Tx, supplierID, material, color string) (*InventoryItem, error)
	// UpdateInventoryItem fails with ErrConflict when the stored version is
	// not expectedVersion.
	UpdateInventoryItem(ctx context.Context, tx Tx, item *InventoryItem, expectedVersion int) error
	ListInventoryItems(ctx context.Context, supplierID string) ([]InventoryItem, error)

	CreateProductModel(ctx context.Context, tx Tx, product *ProductModel) error
	GetProductModel(ctx context.Context, id string) (*ProductModel, error)
	GetProductModelForUpdate(ctx context.Context, tx Tx, id string) (*ProductModel, error)
	UpdateProductModel(ctx context.Context, tx Tx, product *ProductModel) error

	CreateMaterialRequest(ctx context.Context, tx Tx, request *MaterialRequest) error
	GetMaterialRequest(ctx context.Context, id string) (*MaterialRequest, error)
	GetMaterialRequestForUpdate(ctx context.Context, tx Tx, id string) (*MaterialRequest, error)
	UpdateMaterialRequest(ctx context.Context, tx Tx, request *MaterialRequest) error
	ListMaterialRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error)
	LatestMaterialRequest(ctx context.Context, productModelID string) (*MaterialRequest, error)

	// CreateShipment fails with ErrConflict when the request already has a
	// live shipment.
	CreateShipment(ctx context.Context, tx Tx, shipment *Shipment) error
	GetShipmentForUpdate(ctx context.Context, tx Tx, id string) (*Shipment, error)
	UpdateShipment(ctx context.Context, tx Tx, shipment *Shipment) error
	LatestShipmentForRequest(ctx context.Context, requestID string) (*Shipment, error)
	ListShipments(ctx context.Context, manufacturerID string) ([]Shipment, error)
	ShipmentStats(ctx context.Context, manufacturerID string) (ShipmentStats, error)

	// CreateSewingOrder reports false when the shipment already has an order.
	CreateSewingOrder(ctx context.Context, tx Tx, order *SewingOrder) (bool, error)
	GetSewingOrderForUpdate(ctx context.Context, tx Tx, id string) (*SewingOrder, error)
	UpdateSewingOrder(ctx context.Context, tx Tx, order *SewingOrder) error
	ListSewingOrders(ctx context.Context, manufacturerID string) ([]SewingOrder, error)

	CreateTestResult(ctx context.Context, tx Tx, result *TestResult) error
	ListTestResults(ctx context.Context, productModelID string) ([]TestResult, error)

	AppendEvent(ctx context.Context, tx Tx, event *WorkflowEvent) error
	ListEvents(ctx context.Context, productModelID string) ([]WorkflowEvent, error)
}

// RequestFilter narrows ListMaterialRequests. Empty fields match everything.
type RequestFilter struct {
	DesignerID     string
	SupplierID     string
	ProductModelID string
	Status         string
	// IncludeUnassigned adds requests with no supplier to a SupplierID filter.
	IncludeUnassigned bool
}

// Tx is a database transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implements Tx over pgx.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{
		db: db,
	}
}

// BeginTx starts a transaction.
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

const productModelColumns = `id, name, development_stage, materials, approval_tx_hash, approved_by, approved_at, created_at, updated_at`

func scanProductModel(row rowScanner) (*ProductModel, error) {
	var p ProductModel
	err := row.Scan(&p.ID, &p.Name, &p.DevelopmentStage, &p.Materials, &p.ApprovalTxHash,
		&p.ApprovedBy, &p.ApprovedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProductModel inserts a product model.
func (r *PostgresRepository) CreateProductModel(ctx context.Context, tx Tx, p *ProductModel) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO product_models (`+productModelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, p.DevelopmentStage, p.Materials, p.ApprovalTxHash, p.ApprovedBy, p.ApprovedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product model: %w", err)
	}
	return nil
}

// GetProductModel loads a product model.
func (r *PostgresRepository) GetProductModel(ctx context.Context, id string) (*ProductModel, error) {
	p, err := scanProductModel(r.db.QueryRow(ctx, `
		SELECT `+productModelColumns+`
		FROM product_models WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, "product model", id)
	}
	return p, nil
}

// GetProductModelForUpdate loads a product model with a row lock.
func (r *PostgresRepository) GetProductModelForUpdate(ctx context.Context, tx Tx, id string) (*ProductModel, error) {
	pgTx := tx.(*PostgresTx).tx

	p, err := scanProductModel(pgTx.QueryRow(ctx, `
		SELECT `+productModelColumns+`
		FROM product_models WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "product model", id)
	}
	return p, nil
}

// UpdateProductModel writes stage and approval fields.
func (r *PostgresRepository) UpdateProductModel(ctx context.Context, tx Tx, p *ProductModel) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE product_models
		SET development_stage = $1, approval_tx_hash = $2, approved_by = $3, approved_at = $4, updated_at = $5
		WHERE id = $6
	`, p.DevelopmentStage, p.ApprovalTxHash, p.ApprovedBy, p.ApprovedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product model: %w", err)
	}
	return nil
}

const testResultColumns = `id, product_model_id, material_name, percentage, certificate_hash, notes, lab_user_id, created_at`

func scanTestResult(row rowScanner) (*TestResult, error) {
	var t TestResult
	err := row.Scan(&t.ID, &t.ProductModelID, &t.MaterialName, &t.Percentage, &t.CertificateHash,
		&t.Notes, &t.LabUserID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTestResult inserts a lab result.
func (r *PostgresRepository) CreateTestResult(ctx context.Context, tx Tx, t *TestResult) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO test_results (`+testResultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.ProductModelID, t.MaterialName, t.Percentage, t.CertificateHash, t.Notes, t.LabUserID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create test result: %w", err)
	}
	return nil
}

// ListTestResults returns every result of a model, oldest first.
func (r *PostgresRepository) ListTestResults(ctx context.Context, productModelID string) ([]TestResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+testResultColumns+`
		FROM test_results WHERE product_model_id = $1
		ORDER BY created_at, id
	`, productModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	return collect(rows, scanTestResult)
}

const eventColumns = `id, entity, entity_id, product_model_id, from_status, to_status, actor_id, actor_kind, note, created_at`

func scanEvent(row rowScanner) (*WorkflowEvent, error) {
	var e WorkflowEvent
	var kind string
	err := row.Scan(&e.ID, &e.Entity, &e.EntityID, &e.ProductModelID, &e.FromStatus, &e.ToStatus,
		&e.ActorID, &kind, &e.Note, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ActorKind = ActorKind(kind)
	return &e, nil
}

// AppendEvent writes an audit event in the caller's transaction.
func (r *PostgresRepository) AppendEvent(ctx context.Context, tx Tx, e *WorkflowEvent) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO workflow_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Entity, e.EntityID, e.ProductModelID, e.FromStatus, e.ToStatus, e.ActorID, string(e.ActorKind), e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append workflow event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail of a model, oldest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, productModelID string) ([]WorkflowEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM workflow_events WHERE product_model_id = $1
		ORDER BY created_at, id
	`, productModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow events: %w", err)
	}
	return collect(rows, scanEvent)
}
