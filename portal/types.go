package portal

import (
	"time"

	"github.com/atelier-supply/workflow/composition"
	"github.com/shopspring/decimal"
)

// Product is a product model as the workflow service reports it.
type Product struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	DevelopmentStage string     `json:"development_stage"`
	Materials        string     `json:"materials"`
	MaterialStatus   string     `json:"material_status"`
	ApprovalTxHash   string     `json:"approval_tx_hash,omitempty"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
}

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
}

type MaterialRequest struct {
	ID                 string              `json:"id"`
	ProductModelID     string              `json:"product_model_id"`
	DesignerID         string              `json:"designer_id"`
	Material           string              `json:"material"`
	Color              string              `json:"color"`
	QuantityKg         decimal.Decimal     `json:"quantity_kg"`
	Deadline           *time.Time          `json:"deadline,omitempty"`
	SupplierID         string              `json:"supplier_id,omitempty"`
	Status             string              `json:"status"`
	RejectionReason    string              `json:"rejection_reason,omitempty"`
	RejectionComment   string              `json:"rejection_comment,omitempty"`
	PreparedQuantityKg decimal.NullDecimal `json:"prepared_quantity_kg"`
}

// Availability is the supplier's stock check for a request. It never blocks
// acceptance.
type Availability struct {
	Found           bool            `json:"found"`
	InventoryItemID string          `json:"inventory_item_id,omitempty"`
	AvailableKg     decimal.Decimal `json:"available_kg"`
	RequestedKg     decimal.Decimal `json:"requested_kg"`
	ShortfallKg     decimal.Decimal `json:"shortfall_kg"`
	Sufficient      bool            `json:"sufficient"`
}

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
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Status         string          `json:"status"`
	ProblemReason  string          `json:"problem_reason,omitempty"`
}

type ShipmentStats struct {
	Pending   int `json:"pending"`
	Received  int `json:"received"`
	Confirmed int `json:"confirmed"`
	Problem   int `json:"problem"`
}

type SewingOrder struct {
	ID             string `json:"id"`
	ShipmentID     string `json:"shipment_id"`
	ProductModelID string `json:"product_model_id"`
	ManufacturerID string `json:"manufacturer_id"`
	QuantityPieces int    `json:"quantity_pieces"`
	MaterialStatus string `json:"material_status"`
	Status         string `json:"status"`
}

type TestResult struct {
	ID              string `json:"id"`
	ProductModelID  string `json:"product_model_id"`
	MaterialName    string `json:"material_name"`
	Percentage      int    `json:"percentage"`
	CertificateHash string `json:"certificate_hash,omitempty"`
	LabUserID       string `json:"lab_user_id"`
}

// Event is one entry of a product's audit trail.
type Event struct {
	Entity     string    `json:"entity"`
	EntityID   string    `json:"entity_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	ActorKind  string    `json:"actor_kind"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalCheck is the server's dry run of the approval gate.
type ApprovalCheck struct {
	ProductModelID string                  `json:"product_model_id"`
	ProductIDHash  string                  `json:"product_id_hash"`
	Ready          bool                    `json:"ready"`
	Reason         string                  `json:"reason,omitempty"`
	Validation     *composition.Validation `json:"validation,omitempty"`
	TestResults    []TestResult            `json:"test_results"`
}

type Receipt struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	Tester      string    `json:"tester"`
	Materials   string    `json:"materials"`
	Timestamp   time.Time `json:"timestamp"`
}

type Approval struct {
	Product Product  `json:"product"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

type NewInventoryItem struct {
	Material     string          `json:"material"`
	Color        string          `json:"color"`
	QuantityKg   decimal.Decimal `json:"quantity_kg"`
	PricePerKg   decimal.Decimal `json:"price_per_kg"`
	LeadTimeDays int             `json:"lead_time_days"`
}

// InventoryUpdate changes only the fields that are set. Version must be the
// one last read.
type InventoryUpdate struct {
	QuantityKg   *decimal.Decimal `json:"quantity_kg,omitempty"`
	PricePerKg   *decimal.Decimal `json:"price_per_kg,omitempty"`
	LeadTimeDays *int             `json:"lead_time_days,omitempty"`
	Version      int              `json:"version"`
}

type NewMaterialRequest struct {
	ProductModelID string          `json:"product_model_id"`
	Material       string          `json:"material"`
	Color          string          `json:"color"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	Deadline       string          `json:"deadline,omitempty"`
	SupplierID     string          `json:"supplier_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type Preparation struct {
	QuantitySentKg *decimal.Decimal `json:"quantity_sent_kg,omitempty"`
	BatchLotID     string           `json:"batch_lot_id,omitempty"`
	DocumentURL    string           `json:"document_url,omitempty"`
}

type Dispatch struct {
	ManufacturerID string           `json:"manufacturer_id"`
	QuantitySentKg *decimal.Decimal `json:"quantity_sent_kg,omitempty"`
	ShippingDate   string           `json:"shipping_date,omitempty"`
	TrackingNumber string           `json:"tracking_number,omitempty"`
}

type Measurement struct {
	ProductModelID  string `json:"productModelId"`
	MaterialName    string `json:"materialName"`
	Percentage      int    `json:"percentage"`
	CertificateHash string `json:"certificateHash,omitempty"`
	Notes           string `json:"notes,omitempty"`
}
