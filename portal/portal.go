// Package portal is a role-scoped client of the workflow service. A session
// is resolved once into the capability of its role, and each capability
// exposes only the transitions that role may drive.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-supply/workflow/composition"
)

// ErrNoCapability is returned for roles that have no part in the workflow,
// such as logistics or accountant.
var ErrNoCapability = errors.New("role has no workflow capability")

// ErrPrecheckFailed is returned when the local composition check rejects an
// approval before it reaches the service.
var ErrPrecheckFailed = errors.New("approval pre-check failed")

// Pre-check rejection reasons, in the order the service evaluates them.
const (
	ReasonWrongStage          = "wrong stage"
	ReasonNotYetTested        = "not yet tested"
	ReasonNoDeclaredMaterials = "no declared materials"
)

const stageTesting = "testing"

// Session is an authenticated portal user.
type Session struct {
	BaseURL string
	Token   string
	Role    string
	Timeout time.Duration
	// MatchMode is the material name rule of the local approval pre-check.
	MatchMode composition.MatchMode
}

// Capability is what every workflow role can do.
type Capability interface {
	Role() string
	Product(ctx context.Context, id string) (*Product, error)
	Events(ctx context.Context, productModelID string) ([]Event, error)
}

type Designer interface {
	Capability
	CreateProduct(ctx context.Context, name, materials string) (*Product, error)
	AdvanceStage(ctx context.Context, productModelID, stage string) (*Product, error)
	RequestMaterial(ctx context.Context, req NewMaterialRequest) (*MaterialRequest, error)
	Requests(ctx context.Context) ([]MaterialRequest, error)
}

type Supplier interface {
	Capability
	Inventory(ctx context.Context) ([]InventoryItem, error)
	AddInventory(ctx context.Context, item NewInventoryItem) (*InventoryItem, error)
	UpdateInventory(ctx context.Context, id string, update InventoryUpdate) (*InventoryItem, error)
	SetInventoryStatus(ctx context.Context, id, status string) (*InventoryItem, error)
	Requests(ctx context.Context, status string) ([]MaterialRequest, error)
	Availability(ctx context.Context, requestID string) (*Availability, error)
	Accept(ctx context.Context, requestID string) (*MaterialRequest, *Availability, error)
	Reject(ctx context.Context, requestID, reason, comment string) (*MaterialRequest, error)
	Prepare(ctx context.Context, requestID string, preparation Preparation) (*MaterialRequest, error)
	Send(ctx context.Context, requestID string, dispatch Dispatch) (*Shipment, error)
}

type Manufacturer interface {
	Capability
	Shipments(ctx context.Context) ([]Shipment, error)
	ShipmentStats(ctx context.Context) (*ShipmentStats, error)
	Receive(ctx context.Context, shipmentID string) (*Shipment, error)
	Confirm(ctx context.Context, shipmentID string, quantityPieces int) (*SewingOrder, error)
	ReportProblem(ctx context.Context, shipmentID, reason, comment string) (*Shipment, error)
	SewingOrders(ctx context.Context) ([]SewingOrder, error)
	StartSewing(ctx context.Context, orderID string) (*SewingOrder, error)
	CompleteSewing(ctx context.Context, orderID, proofDocumentURL string) (*SewingOrder, error)
}

type Lab interface {
	Capability
	VerifyMaterial(ctx context.Context, measurement Measurement) (*TestResult, error)
	Results(ctx context.Context, productModelID string) ([]TestResult, error)
}

type Tester interface {
	Capability
	ApprovalCheck(ctx context.Context, productModelID string) (*ApprovalCheck, error)
	Precheck(ctx context.Context, productModelID string) (composition.Validation, error)
	// Approve runs the composition check locally, then asks the service to
	// sign and mine the approval.
	Approve(ctx context.Context, productModelID string) (*Approval, error)
	// RecordApproval reports a transaction the tester's own wallet mined.
	RecordApproval(ctx context.Context, productModelID, txHash, requiredMaterials string) (*Approval, error)
}

// Resolve returns the capability of the session's role.
func Resolve(s Session) (Capability, error) {
	if strings.TrimSpace(s.BaseURL) == "" {
		return nil, errors.New("portal: base url is required")
	}
	if s.Token == "" {
		return nil, errors.New("portal: token is required")
	}

	base := roleClient{client: newClient(s)}
	switch strings.ToLower(strings.TrimSpace(s.Role)) {
	case "designer":
		base.role = "designer"
		return &designerClient{base}, nil
	case "supplier":
		base.role = "supplier"
		return &supplierClient{base}, nil
	case "manufacturer":
		base.role = "manufacturer"
		return &manufacturerClient{base}, nil
	case "lab", "laboratory":
		base.role = "lab"
		return &labClient{base}, nil
	case "tester", "quality_tester":
		base.role = "tester"
		return &testerClient{roleClient: base, mode: s.MatchMode}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoCapability, s.Role)
	}
}

type roleClient struct {
	*client
	role string
}

func (r roleClient) Role() string { return r.role }

type designerClient struct{ roleClient }

func (d *designerClient) CreateProduct(ctx context.Context, name, materials string) (*Product, error) {
	var product Product
	body := map[string]string{"name": name, "materials": materials}
	if err := d.call(ctx, http.MethodPost, "/designer/products", body, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (d *designerClient) AdvanceStage(ctx context.Context, productModelID, stage string) (*Product, error) {
	var product Product
	body := map[string]string{"stage": stage}
	if err := d.call(ctx, http.MethodPatch, "/designer/products/"+productModelID+"/stage", body, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (d *designerClient) RequestMaterial(ctx context.Context, req NewMaterialRequest) (*MaterialRequest, error) {
	var request MaterialRequest
	if err := d.call(ctx, http.MethodPost, "/designer/material-requests", req, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (d *designerClient) Requests(ctx context.Context) ([]MaterialRequest, error) {
	var requests []MaterialRequest
	if err := d.call(ctx, http.MethodGet, "/designer/material-requests", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

type supplierClient struct{ roleClient }

func (s *supplierClient) Inventory(ctx context.Context) ([]InventoryItem, error) {
	var items []InventoryItem
	if err := s.call(ctx, http.MethodGet, "/supplier/inventory", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *supplierClient) AddInventory(ctx context.Context, item NewInventoryItem) (*InventoryItem, error) {
	var created InventoryItem
	if err := s.call(ctx, http.MethodPost, "/supplier/inventory", item, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *supplierClient) UpdateInventory(ctx context.Context, id string, update InventoryUpdate) (*InventoryItem, error) {
	var item InventoryItem
	if err := s.call(ctx, http.MethodPatch, "/supplier/inventory/"+id, update, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *supplierClient) SetInventoryStatus(ctx context.Context, id, status string) (*InventoryItem, error) {
	var item InventoryItem
	body := map[string]string{"status": status}
	if err := s.call(ctx, http.MethodPatch, "/supplier/inventory/"+id+"/status", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *supplierClient) Requests(ctx context.Context, status string) ([]MaterialRequest, error) {
	path := "/supplier/requests"
	if status != "" {
		path += "?status=" + status
	}
	var requests []MaterialRequest
	if err := s.call(ctx, http.MethodGet, path, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *supplierClient) Availability(ctx context.Context, requestID string) (*Availability, error) {
	var availability Availability
	if err := s.call(ctx, http.MethodGet, "/supplier/requests/"+requestID+"/availability", nil, &availability); err != nil {
		return nil, err
	}
	return &availability, nil
}

func (s *supplierClient) Accept(ctx context.Context, requestID string) (*MaterialRequest, *Availability, error) {
	var accepted struct {
		Request      MaterialRequest `json:"request"`
		Availability Availability    `json:"availability"`
	}
	if err := s.call(ctx, http.MethodPatch, "/supplier/requests/"+requestID+"/accept", nil, &accepted); err != nil {
		return nil, nil, err
	}
	return &accepted.Request, &accepted.Availability, nil
}

func (s *supplierClient) Reject(ctx context.Context, requestID, reason, comment string) (*MaterialRequest, error) {
	var request MaterialRequest
	body := map[string]string{"rejection_reason": reason, "rejection_comment": comment}
	if err := s.call(ctx, http.MethodPatch, "/supplier/requests/"+requestID+"/reject", body, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *supplierClient) Prepare(ctx context.Context, requestID string, preparation Preparation) (*MaterialRequest, error) {
	var request MaterialRequest
	if err := s.call(ctx, http.MethodPatch, "/supplier/requests/"+requestID+"/prepare", preparation, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *supplierClient) Send(ctx context.Context, requestID string, dispatch Dispatch) (*Shipment, error) {
	var shipment Shipment
	if err := s.call(ctx, http.MethodPost, "/supplier/requests/"+requestID+"/send-to-manufacturer", dispatch, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

type manufacturerClient struct{ roleClient }

func (m *manufacturerClient) Shipments(ctx context.Context) ([]Shipment, error) {
	var shipments []Shipment
	if err := m.call(ctx, http.MethodGet, "/manufacturer/shipments", nil, &shipments); err != nil {
		return nil, err
	}
	return shipments, nil
}

func (m *manufacturerClient) ShipmentStats(ctx context.Context) (*ShipmentStats, error) {
	var stats ShipmentStats
	if err := m.call(ctx, http.MethodGet, "/manufacturer/shipments/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (m *manufacturerClient) Receive(ctx context.Context, shipmentID string) (*Shipment, error) {
	var shipment Shipment
	if err := m.call(ctx, http.MethodPatch, "/manufacturer/shipments/"+shipmentID+"/receive", nil, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (m *manufacturerClient) Confirm(ctx context.Context, shipmentID string, quantityPieces int) (*SewingOrder, error) {
	var order SewingOrder
	body := map[string]int{"quantity_pieces": quantityPieces}
	if err := m.call(ctx, http.MethodPatch, "/manufacturer/shipments/"+shipmentID+"/confirm", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *manufacturerClient) ReportProblem(ctx context.Context, shipmentID, reason, comment string) (*Shipment, error) {
	var shipment Shipment
	body := map[string]string{"problem_reason": reason, "problem_comment": comment}
	if err := m.call(ctx, http.MethodPatch, "/manufacturer/shipments/"+shipmentID+"/report-problem", body, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (m *manufacturerClient) SewingOrders(ctx context.Context) ([]SewingOrder, error) {
	var orders []SewingOrder
	if err := m.call(ctx, http.MethodGet, "/manufacturer/sewing-orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (m *manufacturerClient) StartSewing(ctx context.Context, orderID string) (*SewingOrder, error) {
	var order SewingOrder
	if err := m.call(ctx, http.MethodPatch, "/manufacturer/sewing-orders/"+orderID+"/start", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *manufacturerClient) CompleteSewing(ctx context.Context, orderID, proofDocumentURL string) (*SewingOrder, error) {
	var body interface{}
	if proofDocumentURL != "" {
		body = map[string]string{"proof_document_url": proofDocumentURL}
	}
	var order SewingOrder
	if err := m.call(ctx, http.MethodPatch, "/manufacturer/sewing-orders/"+orderID+"/complete", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type labClient struct{ roleClient }

func (l *labClient) VerifyMaterial(ctx context.Context, measurement Measurement) (*TestResult, error) {
	var result TestResult
	if err := l.call(ctx, http.MethodPost, "/lab/verify-material", measurement, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (l *labClient) Results(ctx context.Context, productModelID string) ([]TestResult, error) {
	var results []TestResult
	if err := l.call(ctx, http.MethodGet, "/lab/products/"+productModelID+"/results", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

type testerClient struct {
	roleClient
	mode composition.MatchMode
}

func (t *testerClient) ApprovalCheck(ctx context.Context, productModelID string) (*ApprovalCheck, error) {
	var check ApprovalCheck
	if err := t.call(ctx, http.MethodGet, "/tester/products/"+productModelID+"/approval-check", nil, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// Precheck validates the declared composition against the lab results the
// service holds. It fails fast; the contract has the final word.
func (t *testerClient) Precheck(ctx context.Context, productModelID string) (composition.Validation, error) {
	product, err := t.Product(ctx, productModelID)
	if err != nil {
		return composition.Validation{}, err
	}
	if product.DevelopmentStage != stageTesting {
		return composition.Validation{Reason: ReasonWrongStage}, nil
	}
	check, err := t.ApprovalCheck(ctx, productModelID)
	if err != nil {
		return composition.Validation{}, err
	}
	if len(check.TestResults) == 0 {
		return composition.Validation{Reason: ReasonNotYetTested}, nil
	}
	if strings.TrimSpace(product.Materials) == "" {
		return composition.Validation{Reason: ReasonNoDeclaredMaterials}, nil
	}

	results := make([]composition.TestResult, 0, len(check.TestResults))
	for _, r := range check.TestResults {
		results = append(results, composition.TestResult{MaterialName: r.MaterialName, Percentage: r.Percentage})
	}
	return composition.ValidateTestResults(product.Materials, results, t.mode), nil
}

func (t *testerClient) Approve(ctx context.Context, productModelID string) (*Approval, error) {
	validation, err := t.Precheck(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, fmt.Errorf("%w: %s", ErrPrecheckFailed, validation.Reason)
	}

	var approval Approval
	if err := t.call(ctx, http.MethodPost, "/tester/products/"+productModelID+"/approve-onchain", nil, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

func (t *testerClient) RecordApproval(ctx context.Context, productModelID, txHash, requiredMaterials string) (*Approval, error) {
	var approval Approval
	body := map[string]string{"txHash": txHash, "requiredMaterials": requiredMaterials}
	if err := t.call(ctx, http.MethodPost, "/tester/products/"+productModelID+"/approve", body, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

