package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryStatus values
const (
	InventoryStatusActive = "active"
	InventoryStatusPaused = "paused"
)

// MaterialRequest status values
const (
	RequestStatusNew        = "new"
	RequestStatusInProgress = "in_progress"
	RequestStatusSent       = "sent"
	RequestStatusCompleted  = "completed"
	RequestStatusRejected   = "rejected"
)

// Rejection reasons accepted by MaterialRequest.Reject
const (
	RejectionQuantityUnavailable = "quantity_unavailable"
	RejectionColorUnavailable    = "color_unavailable"
	RejectionDeadlineTooShort    = "deadline_too_short"
	RejectionOther               = "other"
)

// Shipment status values
const (
	ShipmentStatusSent            = "sent_to_manufacturer"
	ShipmentStatusReceived        = "received"
	ShipmentStatusConfirmed       = "confirmed"
	ShipmentStatusProblemReported = "problem_reported"
)

// SewingOrder status values
const (
	SewingStatusNew        = "new"
	SewingStatusInProgress = "in_progress"
	SewingStatusCompleted  = "completed"

	SewingMaterialWaiting = "waiting"
	SewingMaterialReady   = "ready"
)

// Development stages of a product model, in order
const (
	StageIdea      = "idea"
	StagePrototype = "prototype"
	StageTesting   = "testing"
	StageApproved  = "approved"
)

var stageOrder = []string{StageIdea, StagePrototype, StageTesting, StageApproved}

// Derived material status of a product model
const (
	MaterialStatusNone      = "none"
	MaterialStatusRequested = "requested"
	MaterialStatusPreparing = "preparing"
	MaterialStatusInTransit = "in_transit"
	MaterialStatusReceived  = "received"
	MaterialStatusReady     = "ready"
	MaterialStatusProblem   = "problem_reported"
	MaterialStatusRejected  = "rejected"
)

// Approval precondition reasons
const (
	ReasonWrongStage          = "wrong stage"
	ReasonNotYetTested        = "not yet tested"
	ReasonNoDeclaredMaterials = "no declared materials"
)

// Workflow event entities
const (
	EntityMaterialRequest = "material_request"
	EntityShipment        = "shipment"
	EntitySewingOrder     = "sewing_order"
	EntityProductModel    = "product_model"
	EntityTestResult      = "test_result"
	EntityInventoryItem   = "inventory_item"
)

func invalidTransition(entity, from, action string) error {
	return fmt.Errorf("%w: cannot %s %s in status %q", ErrInvalidTransition, action, entity, from)
}

// InventoryItem is a supplier's stock of one (material, color) pair.
type InventoryItem struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplier_id"`
	Material     string          `json:"material"`
	Color        string          `json:"color"`
	QuantityKg   decimal.Decimal `json:"quantity_kg"`
	PricePerKg   decimal.Decimal `json:"price_per_kg"`
	LeadTimeDays int             `json:"lead_time_days"`
	Status       string          `json:"status"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewInventoryItem creates an active inventory item owned by actor.
func NewInventoryItem(actor Actor, material, color string, quantityKg, pricePerKg decimal.Decimal, leadTimeDays int, now time.Time) (*InventoryItem, error) {
	if err := actor.require(ActorSupplier); err != nil {
		return nil, err
	}
	material, color = strings.TrimSpace(material), strings.TrimSpace(color)
	if material == "" || color == "" {
		return nil, fmt.Errorf("%w: material and color are required", ErrValidation)
	}
	if err := validateStock(quantityKg, pricePerKg, leadTimeDays); err != nil {
		return nil, err
	}

	return &InventoryItem{
		ID:           uuid.New().String(),
		SupplierID:   actor.ID,
		Material:     material,
		Color:        color,
		QuantityKg:   quantityKg,
		PricePerKg:   pricePerKg,
		LeadTimeDays: leadTimeDays,
		Status:       InventoryStatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func validateStock(quantityKg, pricePerKg decimal.Decimal, leadTimeDays int) error {
	if quantityKg.IsNegative() {
		return fmt.Errorf("%w: quantity_kg must not be negative", ErrValidation)
	}
	if pricePerKg.IsNegative() {
		return fmt.Errorf("%w: price_per_kg must not be negative", ErrValidation)
	}
	if leadTimeDays < 0 {
		return fmt.Errorf("%w: lead_time_days must not be negative", ErrValidation)
	}
	return nil
}

func (i *InventoryItem) ownedBy(actor Actor) error {
	if err := actor.require(ActorSupplier); err != nil {
		return err
	}
	if i.SupplierID != actor.ID {
		return fmt.Errorf("%w: inventory item belongs to supplier %s", ErrForbidden, i.SupplierID)
	}
	return nil
}

// Update applies the non-nil fields. The caller's version must match the
// stored one.
func (i *InventoryItem) Update(actor Actor, version int, quantityKg, pricePerKg *decimal.Decimal, leadTimeDays *int, now time.Time) error {
	if err := i.ownedBy(actor); err != nil {
		return err
	}
	if version != i.Version {
		return fmt.Errorf("%w: inventory item version is %d, got %d", ErrConflict, i.Version, version)
	}

	quantity, price, lead := i.QuantityKg, i.PricePerKg, i.LeadTimeDays
	if quantityKg != nil {
		quantity = *quantityKg
	}
	if pricePerKg != nil {
		price = *pricePerKg
	}
	if leadTimeDays != nil {
		lead = *leadTimeDays
	}
	if err := validateStock(quantity, price, lead); err != nil {
		return err
	}

	i.QuantityKg, i.PricePerKg, i.LeadTimeDays = quantity, price, lead
	i.Version++
	i.UpdatedAt = now
	return nil
}

// SetStatus toggles between active and paused without touching quantity.
func (i *InventoryItem) SetStatus(actor Actor, status string, now time.Time) error {
	if err := i.ownedBy(actor); err != nil {
		return err
	}
	if status != InventoryStatusActive && status != InventoryStatusPaused {
		return fmt.Errorf("%w: unknown inventory status %q", ErrValidation, status)
	}
	i.Status = status
	i.Version++
	i.UpdatedAt = now
	return nil
}

// Deduct removes shipped stock. Quantity never goes negative.
func (i *InventoryItem) Deduct(quantityKg decimal.Decimal, now time.Time) error {
	if i.QuantityKg.LessThan(quantityKg) {
		return fmt.Errorf("%w: insufficient stock of %s/%s: %s kg available, %s kg needed",
			ErrInvalidTransition, i.Material, i.Color, i.QuantityKg.String(), quantityKg.String())
	}
	i.QuantityKg = i.QuantityKg.Sub(quantityKg)
	i.Version++
	i.UpdatedAt = now
	return nil
}

// Availability is the advisory stock check shown to a supplier before
// accepting a request.
type Availability struct {
	Found           bool            `json:"found"`
	InventoryItemID string          `json:"inventory_item_id,omitempty"`
	Status          string          `json:"status,omitempty"`
	AvailableKg     decimal.Decimal `json:"available_kg"`
	RequestedKg     decimal.Decimal `json:"requested_kg"`
	ShortfallKg     decimal.Decimal `json:"shortfall_kg"`
	Sufficient      bool            `json:"sufficient"`
}

// CheckAvailability compares a request against the supplier's item, which
// may be nil.
func CheckAvailability(request *MaterialRequest, item *InventoryItem) Availability {
	availability := Availability{RequestedKg: request.QuantityKg, ShortfallKg: request.QuantityKg}
	if item == nil {
		return availability
	}

	availability.Found = true
	availability.InventoryItemID = item.ID
	availability.Status = item.Status
	availability.AvailableKg = item.QuantityKg
	availability.ShortfallKg = decimal.Max(request.QuantityKg.Sub(item.QuantityKg), decimal.Zero)
	availability.Sufficient = availability.ShortfallKg.IsZero() && item.Status == InventoryStatusActive
	return availability
}

// MaterialRequest is a designer's ask for a quantity of (material, color).
type MaterialRequest struct {
	ID                 string              `json:"id"`
	ProductModelID     string              `json:"product_model_id"`
	DesignerID         string              `json:"designer_id"`
	Material           string              `json:"material"`
	Color              string              `json:"color"`
	QuantityKg         decimal.Decimal     `json:"quantity_kg"`
	Deadline           *time.Time          `json:"deadline,omitempty"`
	SupplierID         string              `json:"supplier_id,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	Status             string              `json:"status"`
	RejectionReason    string              `json:"rejection_reason,omitempty"`
	RejectionComment   string              `json:"rejection_comment,omitempty"`
	PreparedQuantityKg decimal.NullDecimal `json:"prepared_quantity_kg"`
	BatchLotID         string              `json:"batch_lot_id,omitempty"`
	DocumentURL        string              `json:"document_url,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NewMaterialRequest creates a request in status new.
func NewMaterialRequest(actor Actor, productModelID, material, color string, quantityKg decimal.Decimal, now time.Time) (*MaterialRequest, error) {
	if err := actor.require(ActorDesigner); err != nil {
		return nil, err
	}
	material, color = strings.TrimSpace(material), strings.TrimSpace(color)
	if productModelID == "" || material == "" || color == "" {
		return nil, fmt.Errorf("%w: product_model_id, material and color are required", ErrValidation)
	}
	if !quantityKg.IsPositive() {
		return nil, fmt.Errorf("%w: quantity_kg must be greater than zero", ErrValidation)
	}

	return &MaterialRequest{
		ID:             uuid.New().String(),
		ProductModelID: productModelID,
		DesignerID:     actor.ID,
		Material:       material,
		Color:          color,
		QuantityKg:     quantityKg,
		Status:         RequestStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal reports whether the request accepts no further transitions.
func (r *MaterialRequest) IsTerminal() bool {
	return r.Status == RequestStatusRejected || r.Status == RequestStatusCompleted
}

// visibleTo checks that actor is the assigned supplier. An unassigned request
// is open to every supplier.
func (r *MaterialRequest) visibleTo(actor Actor) error {
	if err := actor.require(ActorSupplier); err != nil {
		return err
	}
	if r.SupplierID != "" && r.SupplierID != actor.ID {
		return fmt.Errorf("%w: request is assigned to supplier %s", ErrForbidden, r.SupplierID)
	}
	return nil
}

// Accept moves a new request to in_progress and claims it for actor.
func (r *MaterialRequest) Accept(actor Actor, now time.Time) error {
	if err := r.visibleTo(actor); err != nil {
		return err
	}
	if r.Status != RequestStatusNew {
		return invalidTransition(EntityMaterialRequest, r.Status, "accept")
	}
	r.SupplierID = actor.ID
	r.Status = RequestStatusInProgress
	r.UpdatedAt = now
	return nil
}

// Reject closes a new request with a reason from the fixed vocabulary.
func (r *MaterialRequest) Reject(actor Actor, reason, comment string, now time.Time) error {
	if err := r.visibleTo(actor); err != nil {
		return err
	}
	switch reason {
	case RejectionQuantityUnavailable, RejectionColorUnavailable, RejectionDeadlineTooShort, RejectionOther:
	case "":
		return fmt.Errorf("%w: rejection_reason is required", ErrValidation)
	default:
		return fmt.Errorf("%w: unknown rejection_reason %q", ErrValidation, reason)
	}
	if r.Status != RequestStatusNew {
		return invalidTransition(EntityMaterialRequest, r.Status, "reject")
	}
	r.SupplierID = actor.ID
	r.Status = RequestStatusRejected
	r.RejectionReason = reason
	r.RejectionComment = strings.TrimSpace(comment)
	r.UpdatedAt = now
	return nil
}

// Prepare records shipment details on an in_progress request. The status
// does not change.
func (r *MaterialRequest) Prepare(actor Actor, quantitySentKg *decimal.Decimal, batchLotID, documentURL string, now time.Time) error {
	if err := r.visibleTo(actor); err != nil {
		return err
	}
	if r.Status != RequestStatusInProgress {
		return invalidTransition(EntityMaterialRequest, r.Status, "prepare")
	}
	if quantitySentKg != nil {
		if !quantitySentKg.IsPositive() {
			return fmt.Errorf("%w: quantity_sent_kg must be greater than zero", ErrValidation)
		}
		r.PreparedQuantityKg = decimal.NewNullDecimal(*quantitySentKg)
	}
	if batchLotID != "" {
		r.BatchLotID = batchLotID
	}
	if documentURL != "" {
		r.DocumentURL = documentURL
	}
	r.UpdatedAt = now
	return nil
}

// Send moves an in_progress request to sent and returns the quantity to
// ship: the override, then the prepared quantity, then the requested one.
func (r *MaterialRequest) Send(actor Actor, override *decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if err := r.visibleTo(actor); err != nil {
		return decimal.Zero, err
	}
	if r.Status != RequestStatusInProgress {
		return decimal.Zero, invalidTransition(EntityMaterialRequest, r.Status, "send")
	}

	quantity := r.QuantityKg
	switch {
	case override != nil:
		quantity = *override
	case r.PreparedQuantityKg.Valid:
		quantity = r.PreparedQuantityKg.Decimal
	}
	if !quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity_sent_kg must be greater than zero", ErrValidation)
	}

	r.Status = RequestStatusSent
	r.UpdatedAt = now
	return quantity, nil
}

// Complete closes a sent request once its shipment is confirmed.
func (r *MaterialRequest) Complete(now time.Time) error {
	if r.Status != RequestStatusSent {
		return invalidTransition(EntityMaterialRequest, r.Status, "complete")
	}
	r.Status = RequestStatusCompleted
	r.UpdatedAt = now
	return nil
}

// Reopen returns a sent request to in_progress after a shipment problem.
func (r *MaterialRequest) Reopen(now time.Time) error {
	if r.Status != RequestStatusSent {
		return invalidTransition(EntityMaterialRequest, r.Status, "reopen")
	}
	r.Status = RequestStatusInProgress
	r.UpdatedAt = now
	return nil
}

// Shipment is the supplier's fulfillment of a request.
type Shipment struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"request_id"`
	ProductModelID string          `json:"product_model_id"`
	SupplierID     string          `json:"supplier_id"`
	ManufacturerID string          `json:"manufacturer_id"`
	Material       string          `json:"material"`
	Color          string          `json:"color"`
	QuantitySentKg decimal.Decimal `json:"quantity_sent_kg"`
	RequestedKg    decimal.Decimal `json:"requested_kg"`
	BatchLotID     string          `json:"batch_lot_id,omitempty"`
	DocumentURL    string          `json:"document_url,omitempty"`
	ShippingDate   *time.Time      `json:"shipping_date,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Status         string          `json:"status"`
	ProblemReason  string          `json:"problem_reason,omitempty"`
	ProblemComment string          `json:"problem_comment,omitempty"`
	ReceivedAt     *time.Time      `json:"received_at,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewShipment builds the shipment for a request that was just sent.
func NewShipment(request *MaterialRequest, manufacturerID string, quantitySentKg decimal.Decimal, shippingDate *time.Time, trackingNumber string, now time.Time) (*Shipment, error) {
	manufacturerID = strings.TrimSpace(manufacturerID)
	if manufacturerID == "" {
		return nil, fmt.Errorf("%w: manufacturer_id is required", ErrValidation)
	}
	if !quantitySentKg.IsPositive() {
		return nil, fmt.Errorf("%w: quantity_sent_kg must be greater than zero", ErrValidation)
	}
	if request.Status != RequestStatusSent {
		return nil, invalidTransition(EntityMaterialRequest, request.Status, "ship")
	}

	return &Shipment{
		ID:             uuid.New().String(),
		RequestID:      request.ID,
		ProductModelID: request.ProductModelID,
		SupplierID:     request.SupplierID,
		ManufacturerID: manufacturerID,
		Material:       request.Material,
		Color:          request.Color,
		QuantitySentKg: quantitySentKg,
		RequestedKg:    request.QuantityKg,
		BatchLotID:     request.BatchLotID,
		DocumentURL:    request.DocumentURL,
		ShippingDate:   shippingDate,
		TrackingNumber: strings.TrimSpace(trackingNumber),
		Status:         ShipmentStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ShortfallKg is how much less than requested was shipped. It is advisory.
func (s *Shipment) ShortfallKg() decimal.Decimal {
	return decimal.Max(s.RequestedKg.Sub(s.QuantitySentKg), decimal.Zero)
}

func (s *Shipment) addressedTo(actor Actor) error {
	if err := actor.require(ActorManufacturer); err != nil {
		return err
	}
	if s.ManufacturerID != actor.ID {
		return fmt.Errorf("%w: shipment is addressed to manufacturer %s", ErrForbidden, s.ManufacturerID)
	}
	return nil
}

// Receive marks the shipment as physically received.
func (s *Shipment) Receive(actor Actor, now time.Time) error {
	if err := s.addressedTo(actor); err != nil {
		return err
	}
	if s.Status != ShipmentStatusSent {
		return invalidTransition(EntityShipment, s.Status, "receive")
	}
	s.Status = ShipmentStatusReceived
	s.ReceivedAt = &now
	s.UpdatedAt = now
	return nil
}

// Confirm accepts a received shipment. Confirming twice is an error.
func (s *Shipment) Confirm(actor Actor, quantityPieces int, now time.Time) error {
	if err := s.addressedTo(actor); err != nil {
		return err
	}
	if quantityPieces <= 0 {
		return fmt.Errorf("%w: quantity_pieces must be greater than zero", ErrValidation)
	}
	if s.Status != ShipmentStatusReceived {
		return invalidTransition(EntityShipment, s.Status, "confirm")
	}
	s.Status = ShipmentStatusConfirmed
	s.ConfirmedAt = &now
	s.UpdatedAt = now
	return nil
}

// ReportProblem closes the shipment without a sewing order.
func (s *Shipment) ReportProblem(actor Actor, reason, comment string, now time.Time) error {
	if err := s.addressedTo(actor); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: problem_reason is required", ErrValidation)
	}
	if s.Status != ShipmentStatusSent && s.Status != ShipmentStatusReceived {
		return invalidTransition(EntityShipment, s.Status, "report a problem on")
	}
	s.Status = ShipmentStatusProblemReported
	s.ProblemReason = reason
	s.ProblemComment = strings.TrimSpace(comment)
	s.UpdatedAt = now
	return nil
}

// ShipmentStats are the manufacturer's KPI buckets.
type ShipmentStats struct {
	Pending   int `json:"pending"`
	Received  int `json:"received"`
	Confirmed int `json:"confirmed"`
	Problem   int `json:"problem"`
}

// SewingOrder is the production ticket derived from a confirmed shipment.
type SewingOrder struct {
	ID               string     `json:"id"`
	ShipmentID       string     `json:"shipment_id"`
	ProductModelID   string     `json:"product_model_id"`
	ManufacturerID   string     `json:"manufacturer_id"`
	QuantityPieces   int        `json:"quantity_pieces"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	MaterialStatus   string     `json:"material_status"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProofDocumentURL string     `json:"proof_document_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewSewingOrder derives the order from a confirmed shipment. Materials are
// ready by construction.
func NewSewingOrder(shipment *Shipment, quantityPieces int, deadline *time.Time, now time.Time) (*SewingOrder, error) {
	if shipment.Status != ShipmentStatusConfirmed {
		return nil, fmt.Errorf("%w: sewing order requires a confirmed shipment, got %q", ErrInvalidTransition, shipment.Status)
	}
	if quantityPieces <= 0 {
		return nil, fmt.Errorf("%w: quantity_pieces must be greater than zero", ErrValidation)
	}

	return &SewingOrder{
		ID:             uuid.New().String(),
		ShipmentID:     shipment.ID,
		ProductModelID: shipment.ProductModelID,
		ManufacturerID: shipment.ManufacturerID,
		QuantityPieces: quantityPieces,
		Deadline:       deadline,
		MaterialStatus: SewingMaterialReady,
		Status:         SewingStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (o *SewingOrder) ownedBy(actor Actor) error {
	if err := actor.require(ActorManufacturer); err != nil {
		return err
	}
	if o.ManufacturerID != actor.ID {
		return fmt.Errorf("%w: sewing order belongs to manufacturer %s", ErrForbidden, o.ManufacturerID)
	}
	return nil
}

// Start begins production.
func (o *SewingOrder) Start(actor Actor, now time.Time) error {
	if err := o.ownedBy(actor); err != nil {
		return err
	}
	if o.Status != SewingStatusNew {
		return invalidTransition(EntitySewingOrder, o.Status, "start")
	}
	if o.MaterialStatus != SewingMaterialReady {
		return fmt.Errorf("%w: materials are %q", ErrInvalidTransition, o.MaterialStatus)
	}
	o.Status = SewingStatusInProgress
	o.StartedAt = &now
	o.UpdatedAt = now
	return nil
}

// Complete finishes production. The proof document is optional.
func (o *SewingOrder) Complete(actor Actor, proofDocumentURL string, now time.Time) error {
	if err := o.ownedBy(actor); err != nil {
		return err
	}
	if o.Status != SewingStatusInProgress {
		return invalidTransition(EntitySewingOrder, o.Status, "complete")
	}
	o.Status = SewingStatusCompleted
	o.ProofDocumentURL = strings.TrimSpace(proofDocumentURL)
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

// TestResult is an immutable lab measurement.
type TestResult struct {
	ID              string    `json:"id"`
	ProductModelID  string    `json:"product_model_id"`
	MaterialName    string    `json:"material_name"`
	Percentage      int       `json:"percentage"`
	CertificateHash string    `json:"certificate_hash,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	LabUserID       string    `json:"lab_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewTestResult records a lab result for a model under test.
func NewTestResult(actor Actor, product *ProductModel, materialName string, percentage int, certificateHash, notes string, now time.Time) (*TestResult, error) {
	if err := actor.require(ActorLab); err != nil {
		return nil, err
	}
	materialName = strings.TrimSpace(materialName)
	if materialName == "" {
		return nil, fmt.Errorf("%w: materialName is required", ErrValidation)
	}
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: percentage must be between 0 and 100, got %d", ErrValidation, percentage)
	}
	if product.DevelopmentStage != StageTesting {
		return nil, fmt.Errorf("%w: product model is in stage %q, results are recorded only in %q",
			ErrInvalidTransition, product.DevelopmentStage, StageTesting)
	}

	return &TestResult{
		ID:              uuid.New().String(),
		ProductModelID:  product.ID,
		MaterialName:    materialName,
		Percentage:      percentage,
		CertificateHash: strings.TrimSpace(certificateHash),
		Notes:           strings.TrimSpace(notes),
		LabUserID:       actor.ID,
		CreatedAt:       now,
	}, nil
}

// ProductModel is the entity whose stage the workflow drives.
type ProductModel struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	DevelopmentStage string     `json:"development_stage"`
	Materials        string     `json:"materials"`
	MaterialStatus   string     `json:"material_status"`
	ApprovalTxHash   string     `json:"approval_tx_hash,omitempty"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func stageIndex(stage string) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// AdvanceStage moves the model one stage forward. Approval is reserved for
// the approval gate.
func (p *ProductModel) AdvanceStage(actor Actor, stage string, now time.Time) error {
	if err := actor.require(ActorDesigner); err != nil {
		return err
	}
	target := stageIndex(stage)
	if target < 0 {
		return fmt.Errorf("%w: unknown development stage %q", ErrValidation, stage)
	}
	if stage == StageApproved {
		return fmt.Errorf("%w: products are approved only through the approval gate", ErrForbidden)
	}
	if target != stageIndex(p.DevelopmentStage)+1 {
		return fmt.Errorf("%w: cannot move product model from %q to %q", ErrInvalidTransition, p.DevelopmentStage, stage)
	}
	p.DevelopmentStage = stage
	p.UpdatedAt = now
	return nil
}

// CheckApprovalPreconditions returns the first failed precondition.
func (p *ProductModel) CheckApprovalPreconditions(testResults int) error {
	if p.DevelopmentStage != StageTesting {
		return &PreconditionError{Reason: ReasonWrongStage}
	}
	if testResults == 0 {
		return &PreconditionError{Reason: ReasonNotYetTested}
	}
	if strings.TrimSpace(p.Materials) == "" {
		return &PreconditionError{Reason: ReasonNoDeclaredMaterials}
	}
	return nil
}

// Approve records a mined approval transaction.
func (p *ProductModel) Approve(txHash, testerID string, now time.Time) error {
	if txHash == "" {
		return fmt.Errorf("%w: transaction hash is required", ErrValidation)
	}
	if p.DevelopmentStage != StageTesting {
		return invalidTransition(EntityProductModel, p.DevelopmentStage, "approve")
	}
	p.DevelopmentStage = StageApproved
	p.ApprovalTxHash = txHash
	p.ApprovedBy = testerID
	p.ApprovedAt = &now
	p.UpdatedAt = now
	return nil
}

// DeriveMaterialStatus summarizes the latest request and its live shipment.
// Either may be nil.
func DeriveMaterialStatus(request *MaterialRequest, shipment *Shipment) string {
	if request == nil {
		return MaterialStatusNone
	}
	switch request.Status {
	case RequestStatusNew:
		return MaterialStatusRequested
	case RequestStatusRejected:
		return MaterialStatusRejected
	case RequestStatusCompleted:
		return MaterialStatusReady
	case RequestStatusInProgress:
		if shipment != nil && shipment.Status == ShipmentStatusProblemReported {
			return MaterialStatusProblem
		}
		return MaterialStatusPreparing
	}

	if shipment == nil {
		return MaterialStatusInTransit
	}
	switch shipment.Status {
	case ShipmentStatusReceived:
		return MaterialStatusReceived
	case ShipmentStatusConfirmed:
		return MaterialStatusReady
	default:
		return MaterialStatusInTransit
	}
}

// WorkflowEvent is one entry of the append-only audit trail.
type WorkflowEvent struct {
	ID             string    `json:"id"`
	Entity         string    `json:"entity"`
	EntityID       string    `json:"entity_id"`
	ProductModelID string    `json:"product_model_id"`
	FromStatus     string    `json:"from_status,omitempty"`
	ToStatus       string    `json:"to_status"`
	ActorID        string    `json:"actor_id"`
	ActorKind      ActorKind `json:"actor_kind"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewWorkflowEvent creates an event.
func NewWorkflowEvent(entity, entityID, productModelID, from, to string, actor Actor, note string, now time.Time) *WorkflowEvent {
	return &WorkflowEvent{
		ID:             uuid.New().String(),
		Entity:         entity,
		EntityID:       entityID,
		ProductModelID: productModelID,
		FromStatus:     from,
		ToStatus:       to,
		ActorID:        actor.ID,
		ActorKind:      actor.Kind,
		Note:           note,
		CreatedAt:      now,
	}
}
