package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateProductModelRequest is the body of POST /designer/products
type CreateProductModelRequest struct {
	Name      string `json:"name" binding:"required"`
	Materials string `json:"materials"`
}

// AdvanceStageRequest is the body of PATCH /designer/products/:id/stage
type AdvanceStageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

// CreateMaterialRequestRequest is the body of POST /designer/material-requests
type CreateMaterialRequestRequest struct {
	ProductModelID string          `json:"product_model_id" binding:"required"`
	Material       string          `json:"material" binding:"required"`
	Color          string          `json:"color" binding:"required"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	Deadline       string          `json:"deadline,omitempty"`
	SupplierID     string          `json:"supplier_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// RejectRequestRequest is the body of PATCH /supplier/requests/:id/reject
type RejectRequestRequest struct {
	RejectionReason  string `json:"rejection_reason"`
	RejectionComment string `json:"rejection_comment,omitempty"`
}

// PrepareRequestRequest is the body of PATCH /supplier/requests/:id/prepare
type PrepareRequestRequest struct {
	QuantitySentKg *decimal.Decimal `json:"quantity_sent_kg,omitempty"`
	BatchLotID     string           `json:"batch_lot_id,omitempty"`
	DocumentURL    string           `json:"document_url,omitempty"`
}

// SendToManufacturerRequest is the body of
// POST /supplier/requests/:id/send-to-manufacturer
type SendToManufacturerRequest struct {
	ManufacturerID string           `json:"manufacturer_id"`
	QuantitySentKg *decimal.Decimal `json:"quantity_sent_kg,omitempty"`
	ShippingDate   string           `json:"shipping_date,omitempty"`
	TrackingNumber string           `json:"tracking_number,omitempty"`
}

// ConfirmShipmentRequest is the body of PATCH /manufacturer/shipments/:id/confirm
type ConfirmShipmentRequest struct {
	QuantityPieces int `json:"quantity_pieces"`
}

// ReportProblemRequest is the body of PATCH /manufacturer/shipments/:id/report-problem
type ReportProblemRequest struct {
	ProblemReason  string `json:"problem_reason"`
	ProblemComment string `json:"problem_comment,omitempty"`
}

// CompleteSewingOrderRequest is the body of PATCH /manufacturer/sewing-orders/:id/complete
type CompleteSewingOrderRequest struct {
	ProofDocumentURL string `json:"proof_document_url,omitempty"`
}

// VerifyMaterialRequest is the body of POST /lab/verify-material
type VerifyMaterialRequest struct {
	ProductModelID  string `json:"productModelId" binding:"required"`
	MaterialName    string `json:"materialName"`
	Percentage      *int   `json:"percentage"`
	CertificateHash string `json:"certificateHash,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// RecordApprovalRequest is the body of POST /tester/products/:id/approve
type RecordApprovalRequest struct {
	TxHash            string `json:"txHash" binding:"required"`
	RequiredMaterials string `json:"requiredMaterials"`
}

// CreateInventoryItemRequest is the body of POST /supplier/inventory
type CreateInventoryItemRequest struct {
	Material     string          `json:"material" binding:"required"`
	Color        string          `json:"color" binding:"required"`
	QuantityKg   decimal.Decimal `json:"quantity_kg"`
	PricePerKg   decimal.Decimal `json:"price_per_kg"`
	LeadTimeDays int             `json:"lead_time_days"`
}

// UpdateInventoryItemRequest is the body of PATCH /supplier/inventory/:id
type UpdateInventoryItemRequest struct {
	QuantityKg   *decimal.Decimal `json:"quantity_kg,omitempty"`
	PricePerKg   *decimal.Decimal `json:"price_per_kg,omitempty"`
	LeadTimeDays *int             `json:"lead_time_days,omitempty"`
	Version      int              `json:"version" binding:"required"`
}

// SetInventoryStatusRequest is the body of PATCH /supplier/inventory/:id/status
type SetInventoryStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// yields nil.
func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC 3339, got %q", ErrValidation, field, value)
}
