package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memoryState is one snapshot of every table.
type memoryState struct {
	inventory   map[string]InventoryItem
	products    map[string]ProductModel
	requests    map[string]MaterialRequest
	shipments   map[string]Shipment
	sewing      map[string]SewingOrder
	testResults []TestResult
	events      []WorkflowEvent
}

func newMemoryState() *memoryState {
	return &memoryState{
		inventory: map[string]InventoryItem{},
		products:  map[string]ProductModel{},
		requests:  map[string]MaterialRequest{},
		shipments: map[string]Shipment{},
		sewing:    map[string]SewingOrder{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.shipments {
		c.shipments[k] = v
	}
	for k, v := range s.sewing {
		c.sewing[k] = v
	}
	c.testResults = append([]TestResult(nil), s.testResults...)
	c.events = append([]WorkflowEvent(nil), s.events...)
	return c
}

// MemoryRepository is a Repository whose transactions work on a snapshot
// that replaces the committed state on Commit. Transactions are serialized.
type MemoryRepository struct {
	mu        sync.Mutex
	txLock    sync.Mutex
	committed *memoryState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{committed: newMemoryState()}
}

type memoryTx struct {
	repo  *MemoryRepository
	state *memoryState
	done  bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.repo.mu.Lock()
	t.repo.committed = t.state
	t.repo.mu.Unlock()
	t.done = true
	t.repo.txLock.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.txLock.Unlock()
	return nil
}

func (r *MemoryRepository) BeginTx(ctx context.Context) (Tx, error) {
	r.txLock.Lock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return &memoryTx{repo: r, state: r.committed.clone()}, nil
}

func (r *MemoryRepository) read() *memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

func txState(tx Tx) *memoryState {
	return tx.(*memoryTx).state
}

func missing(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// seedProduct stores a product model outside any transaction.
func (r *MemoryRepository) seedProduct(p ProductModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed.products[p.ID] = p
}

// Inventory

func (r *MemoryRepository) CreateInventoryItem(ctx context.Context, tx Tx, item *InventoryItem) error {
	s := txState(tx)
	for _, existing := range s.inventory {
		if existing.SupplierID == item.SupplierID && existing.Material == item.Material && existing.Color == item.Color {
			return fmt.Errorf("%w: inventory item for %s/%s already exists", ErrConflict, item.Material, item.Color)
		}
	}
	s.inventory[item.ID] = *item
	return nil
}

func (r *MemoryRepository) GetInventoryItemForUpdate(ctx context.Context, tx Tx, id string) (*InventoryItem, error) {
	item, ok := txState(tx).inventory[id]
	if !ok {
		return nil, missing("inventory item", id)
	}
	return &item, nil
}

func findInventory(s *memoryState, supplierID, material, color string) (*InventoryItem, error) {
	for _, item := range s.inventory {
		if item.SupplierID == supplierID && item.Material == material && item.Color == color {
			return &item, nil
		}
	}
	return nil, missing("inventory item", material+"/"+color)
}

func (r *MemoryRepository) FindInventoryItem(ctx context.Context, supplierID, material, color string) (*InventoryItem, error) {
	return findInventory(r.read(), supplierID, material, color)
}

func (r *MemoryRepository) FindInventoryItemForUpdate(ctx context.Context, tx Tx, supplierID, material, color string) (*InventoryItem, error) {
	return findInventory(txState(tx), supplierID, material, color)
}

func (r *MemoryRepository) UpdateInventoryItem(ctx context.Context, tx Tx, item *InventoryItem, expectedVersion int) error {
	s := txState(tx)
	stored, ok := s.inventory[item.ID]
	if !ok {
		return missing("inventory item", item.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: inventory item %s was modified concurrently", ErrConflict, item.ID)
	}
	s.inventory[item.ID] = *item
	return nil
}

func (r *MemoryRepository) ListInventoryItems(ctx context.Context, supplierID string) ([]InventoryItem, error) {
	var items []InventoryItem
	for _, item := range r.read().inventory {
		if item.SupplierID == supplierID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Material+items[i].Color < items[j].Material+items[j].Color })
	return items, nil
}

// Product models

func (r *MemoryRepository) CreateProductModel(ctx context.Context, tx Tx, product *ProductModel) error {
	txState(tx).products[product.ID] = *product
	return nil
}

func (r *MemoryRepository) GetProductModel(ctx context.Context, id string) (*ProductModel, error) {
	p, ok := r.read().products[id]
	if !ok {
		return nil, missing("product model", id)
	}
	return &p, nil
}

func (r *MemoryRepository) GetProductModelForUpdate(ctx context.Context, tx Tx, id string) (*ProductModel, error) {
	p, ok := txState(tx).products[id]
	if !ok {
		return nil, missing("product model", id)
	}
	return &p, nil
}

func (r *MemoryRepository) UpdateProductModel(ctx context.Context, tx Tx, product *ProductModel) error {
	txState(tx).products[product.ID] = *product
	return nil
}

// Material requests

func (r *MemoryRepository) CreateMaterialRequest(ctx context.Context, tx Tx, request *MaterialRequest) error {
	txState(tx).requests[request.ID] = *request
	return nil
}

func (r *MemoryRepository) GetMaterialRequest(ctx context.Context, id string) (*MaterialRequest, error) {
	m, ok := r.read().requests[id]
	if !ok {
		return nil, missing("material request", id)
	}
	return &m, nil
}

func (r *MemoryRepository) GetMaterialRequestForUpdate(ctx context.Context, tx Tx, id string) (*MaterialRequest, error) {
	m, ok := txState(tx).requests[id]
	if !ok {
		return nil, missing("material request", id)
	}
	return &m, nil
}

func (r *MemoryRepository) UpdateMaterialRequest(ctx context.Context, tx Tx, request *MaterialRequest) error {
	txState(tx).requests[request.ID] = *request
	return nil
}

func (r *MemoryRepository) ListMaterialRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error) {
	var out []MaterialRequest
	for _, m := range r.read().requests {
		if filter.DesignerID != "" && m.DesignerID != filter.DesignerID {
			continue
		}
		if filter.SupplierID != "" && m.SupplierID != filter.SupplierID && !(filter.IncludeUnassigned && m.SupplierID == "") {
			continue
		}
		if filter.ProductModelID != "" && m.ProductModelID != filter.ProductModelID {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) LatestMaterialRequest(ctx context.Context, productModelID string) (*MaterialRequest, error) {
	requests, _ := r.ListMaterialRequests(ctx, RequestFilter{ProductModelID: productModelID})
	if len(requests) == 0 {
		return nil, nil
	}
	return &requests[0], nil
}

// Shipments

func (r *MemoryRepository) CreateShipment(ctx context.Context, tx Tx, shipment *Shipment) error {
	s := txState(tx)
	for _, existing := range s.shipments {
		if existing.RequestID == shipment.RequestID && existing.Status != ShipmentStatusProblemReported {
			return fmt.Errorf("%w: request %s already has a live shipment", ErrConflict, shipment.RequestID)
		}
	}
	s.shipments[shipment.ID] = *shipment
	return nil
}

func (r *MemoryRepository) GetShipmentForUpdate(ctx context.Context, tx Tx, id string) (*Shipment, error) {
	sh, ok := txState(tx).shipments[id]
	if !ok {
		return nil, missing("shipment", id)
	}
	return &sh, nil
}

func (r *MemoryRepository) UpdateShipment(ctx context.Context, tx Tx, shipment *Shipment) error {
	txState(tx).shipments[shipment.ID] = *shipment
	return nil
}

func (r *MemoryRepository) LatestShipmentForRequest(ctx context.Context, requestID string) (*Shipment, error) {
	var latest *Shipment
	for _, sh := range r.read().shipments {
		if sh.RequestID != requestID {
			continue
		}
		if latest == nil || sh.CreatedAt.After(latest.CreatedAt) {
			sh := sh
			latest = &sh
		}
	}
	return latest, nil
}

func (r *MemoryRepository) ListShipments(ctx context.Context, manufacturerID string) ([]Shipment, error) {
	var out []Shipment
	for _, sh := range r.read().shipments {
		if sh.ManufacturerID == manufacturerID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ShipmentStats(ctx context.Context, manufacturerID string) (ShipmentStats, error) {
	var stats ShipmentStats
	for _, sh := range r.read().shipments {
		if sh.ManufacturerID != manufacturerID {
			continue
		}
		switch sh.Status {
		case ShipmentStatusSent:
			stats.Pending++
		case ShipmentStatusReceived:
			stats.Received++
		case ShipmentStatusConfirmed:
			stats.Confirmed++
		case ShipmentStatusProblemReported:
			stats.Problem++
		}
	}
	return stats, nil
}

// Sewing orders

func (r *MemoryRepository) CreateSewingOrder(ctx context.Context, tx Tx, order *SewingOrder) (bool, error) {
	s := txState(tx)
	for _, existing := range s.sewing {
		if existing.ShipmentID == order.ShipmentID {
			return false, nil
		}
	}
	s.sewing[order.ID] = *order
	return true, nil
}

func (r *MemoryRepository) GetSewingOrderForUpdate(ctx context.Context, tx Tx, id string) (*SewingOrder, error) {
	o, ok := txState(tx).sewing[id]
	if !ok {
		return nil, missing("sewing order", id)
	}
	return &o, nil
}

func (r *MemoryRepository) UpdateSewingOrder(ctx context.Context, tx Tx, order *SewingOrder) error {
	txState(tx).sewing[order.ID] = *order
	return nil
}

func (r *MemoryRepository) ListSewingOrders(ctx context.Context, manufacturerID string) ([]SewingOrder, error) {
	var out []SewingOrder
	for _, o := range r.read().sewing {
		if o.ManufacturerID == manufacturerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// Lab results and events

func (r *MemoryRepository) CreateTestResult(ctx context.Context, tx Tx, result *TestResult) error {
	s := txState(tx)
	s.testResults = append(s.testResults, *result)
	return nil
}

func (r *MemoryRepository) ListTestResults(ctx context.Context, productModelID string) ([]TestResult, error) {
	var out []TestResult
	for _, t := range r.read().testResults {
		if t.ProductModelID == productModelID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryRepository) AppendEvent(ctx context.Context, tx Tx, event *WorkflowEvent) error {
	s := txState(tx)
	s.events = append(s.events, *event)
	return nil
}

func (r *MemoryRepository) ListEvents(ctx context.Context, productModelID string) ([]WorkflowEvent, error) {
	var out []WorkflowEvent
	for _, e := range r.read().events {
		if e.ProductModelID == productModelID {
			out = append(out, e)
		}
	}
	return out, nil
}
