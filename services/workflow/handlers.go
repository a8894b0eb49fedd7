package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WorkflowUseCaseInterface is what the HTTP layer needs from the workflow.
type WorkflowUseCaseInterface interface {
	CreateProductModel(ctx context.Context, actor Actor, req CreateProductModelRequest) (*ProductModel, error)
	GetProductModel(ctx context.Context, id string) (*ProductModel, error)
	AdvanceStage(ctx context.Context, actor Actor, id string, req AdvanceStageRequest) (*ProductModel, error)
	ListEvents(ctx context.Context, productModelID string) ([]WorkflowEvent, error)

	CreateInventoryItem(ctx context.Context, actor Actor, req CreateInventoryItemRequest) (*InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, actor Actor, id string, req UpdateInventoryItemRequest) (*InventoryItem, error)
	SetInventoryStatus(ctx context.Context, actor Actor, id string, req SetInventoryStatusRequest) (*InventoryItem, error)
	ListInventory(ctx context.Context, actor Actor) ([]InventoryItem, error)

	CreateMaterialRequest(ctx context.Context, actor Actor, req CreateMaterialRequestRequest) (*MaterialRequest, error)
	ListDesignerRequests(ctx context.Context, actor Actor) ([]MaterialRequest, error)
	ListSupplierRequests(ctx context.Context, actor Actor, status string) ([]MaterialRequest, error)
	Availability(ctx context.Context, actor Actor, requestID string) (*Availability, error)
	AcceptRequest(ctx context.Context, actor Actor, id string) (*MaterialRequest, *Availability, error)
	RejectRequest(ctx context.Context, actor Actor, id string, req RejectRequestRequest) (*MaterialRequest, error)
	PrepareRequest(ctx context.Context, actor Actor, id string, req PrepareRequestRequest) (*MaterialRequest, error)
	SendToManufacturer(ctx context.Context, actor Actor, id string, req SendToManufacturerRequest) (*Shipment, error)

	ListShipments(ctx context.Context, actor Actor) ([]Shipment, error)
	ShipmentStats(ctx context.Context, actor Actor) (ShipmentStats, error)
	ReceiveShipment(ctx context.Context, actor Actor, id string) (*Shipment, error)
	ConfirmShipment(ctx context.Context, actor Actor, id string, req ConfirmShipmentRequest) (*SewingOrder, error)
	ReportProblem(ctx context.Context, actor Actor, id string, req ReportProblemRequest) (*Shipment, error)

	ListSewingOrders(ctx context.Context, actor Actor) ([]SewingOrder, error)
	StartSewingOrder(ctx context.Context, actor Actor, id string) (*SewingOrder, error)
	CompleteSewingOrder(ctx context.Context, actor Actor, id string, req CompleteSewingOrderRequest) (*SewingOrder, error)

	VerifyMaterial(ctx context.Context, actor Actor, req VerifyMaterialRequest) (*TestResult, error)
	ListTestResults(ctx context.Context, productModelID string) ([]TestResult, error)
}

// WorkflowHandler contains the HTTP handlers of the workflow transitions.
type WorkflowHandler struct {
	useCase WorkflowUseCaseInterface
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewWorkflowHandler creates a WorkflowHandler.
func NewWorkflowHandler(useCase WorkflowUseCaseInterface, logger *zap.Logger, tracer trace.Tracer) *WorkflowHandler {
	return &WorkflowHandler{
		useCase: useCase,
		logger:  logger,
		tracer:  tracer,
	}
}

type errorMapping struct {
	kind   error
	status int
	code   string
}

// errorMappings is checked in order; the first kind matched by errors.Is wins.
var errorMappings = []errorMapping{
	{ErrValidation, http.StatusBadRequest, "validation_error"},
	{ErrUnauthorizedSigner, http.StatusForbidden, "unauthorized_signer"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrTransactionPending, http.StatusConflict, "transaction_pending"},
	{ErrApprovalRejected, http.StatusUnprocessableEntity, "approval_rejected"},
	{ErrTransactionReverted, http.StatusUnprocessableEntity, "transaction_reverted"},
	{ErrOutOfGas, http.StatusUnprocessableEntity, "out_of_gas"},
	{ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{ErrSignerUnavailable, http.StatusServiceUnavailable, "signer_unavailable"},
	{ErrWrongNetwork, http.StatusBadGateway, "wrong_network"},
	{ErrChainUnavailable, http.StatusBadGateway, "chain_unavailable"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func writeError(c *gin.Context, span trace.Span, logger *zap.Logger, err error) {
	span.RecordError(err)
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("❌ [HTTP] unexpected error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		c.JSON(status, gin.H{"success": false, "error": "internal server error", "code": code})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error(), "code": code})
}

func bindError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "code": "validation_error"})
}

// start opens the handler span and tags it with the caller and path id.
func (h *WorkflowHandler) start(c *gin.Context, operationName string) (context.Context, trace.Span, Actor) {
	ctx, span := h.tracer.Start(c.Request.Context(), operationName)
	actor := actorFrom(c)
	span.SetAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.kind", string(actor.Kind)),
	)
	if id := c.Param("id"); id != "" {
		span.SetAttributes(attribute.String("entity.id", id))
	}
	return ctx, span, actor
}

// CreateProductModel registers a new model for the designer
func (h *WorkflowHandler) CreateProductModel(c *gin.Context) {
	ctx, span, actor := h.start(c, "create_product_model")
	defer span.End()

	var req CreateProductModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	product, err := h.useCase.CreateProductModel(ctx, actor, req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, product)
}

func (h *WorkflowHandler) GetProductModel(c *gin.Context) {
	ctx, span, _ := h.start(c, "get_product_model")
	defer span.End()

	product, err := h.useCase.GetProductModel(ctx, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, product)
}

func (h *WorkflowHandler) AdvanceStage(c *gin.Context) {
	ctx, span, actor := h.start(c, "advance_stage")
	defer span.End()

	var req AdvanceStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	product, err := h.useCase.AdvanceStage(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, product)
}

func (h *WorkflowHandler) ListEvents(c *gin.Context) {
	ctx, span, _ := h.start(c, "list_events")
	defer span.End()

	events, err := h.useCase.ListEvents(ctx, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, events)
}

func (h *WorkflowHandler) ListInventory(c *gin.Context) {
	ctx, span, actor := h.start(c, "list_inventory")
	defer span.End()

	items, err := h.useCase.ListInventory(ctx, actor)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, items)
}

func (h *WorkflowHandler) CreateInventoryItem(c *gin.Context) {
	ctx, span, actor := h.start(c, "create_inventory_item")
	defer span.End()

	var req CreateInventoryItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	item, err := h.useCase.CreateInventoryItem(ctx, actor, req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, item)
}

func (h *WorkflowHandler) UpdateInventoryItem(c *gin.Context) {
	ctx, span, actor := h.start(c, "update_inventory_item")
	defer span.End()

	var req UpdateInventoryItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	item, err := h.useCase.UpdateInventoryItem(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, item)
}

func (h *WorkflowHandler) SetInventoryStatus(c *gin.Context) {
	ctx, span, actor := h.start(c, "set_inventory_status")
	defer span.End()

	var req SetInventoryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	item, err := h.useCase.SetInventoryStatus(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, item)
}

// CreateMaterialRequest opens a request for the designer
func (h *WorkflowHandler) CreateMaterialRequest(c *gin.Context) {
	ctx, span, actor := h.start(c, "create_material_request")
	defer span.End()

	var req CreateMaterialRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("product_model_id", req.ProductModelID),
		attribute.String("material", req.Material),
		attribute.String("color", req.Color),
	)

	request, err := h.useCase.CreateMaterialRequest(ctx, actor, req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, request)
}

func (h *WorkflowHandler) ListDesignerRequests(c *gin.Context) {
	ctx, span, actor := h.start(c, "list_designer_requests")
	defer span.End()

	requests, err := h.useCase.ListDesignerRequests(ctx, actor)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, requests)
}

func (h *WorkflowHandler) ListSupplierRequests(c *gin.Context) {
	ctx, span, actor := h.start(c, "list_supplier_requests")
	defer span.End()

	requests, err := h.useCase.ListSupplierRequests(ctx, actor, c.Query("status"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, requests)
}

func (h *WorkflowHandler) Availability(c *gin.Context) {
	ctx, span, actor := h.start(c, "request_availability")
	defer span.End()

	availability, err := h.useCase.Availability(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, availability)
}

// AcceptRequest claims a request; the availability report is advisory
func (h *WorkflowHandler) AcceptRequest(c *gin.Context) {
	ctx, span, actor := h.start(c, "accept_request")
	defer span.End()

	request, availability, err := h.useCase.AcceptRequest(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"request": request, "availability": availability})
}

func (h *WorkflowHandler) RejectRequest(c *gin.Context) {
	ctx, span, actor := h.start(c, "reject_request")
	defer span.End()

	var req RejectRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	request, err := h.useCase.RejectRequest(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, request)
}

func (h *WorkflowHandler) PrepareRequest(c *gin.Context) {
	ctx, span, actor := h.start(c, "prepare_request")
	defer span.End()

	var req PrepareRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	request, err := h.useCase.PrepareRequest(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, request)
}

func (h *WorkflowHandler) SendToManufacturer(c *gin.Context) {
	ctx, span, actor := h.start(c, "send_to_manufacturer")
	defer span.End()

	var req SendToManufacturerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}
	span.SetAttributes(attribute.String("manufacturer_id", req.ManufacturerID))

	shipment, err := h.useCase.SendToManufacturer(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, shipment)
}

func (h *WorkflowHandler) ListShipments(c *gin.Context) {
	ctx, span, actor := h.start(c, "list_shipments")
	defer span.End()

	shipments, err := h.useCase.ListShipments(ctx, actor)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, shipments)
}

func (h *WorkflowHandler) ShipmentStats(c *gin.Context) {
	ctx, span, actor := h.start(c, "shipment_stats")
	defer span.End()

	stats, err := h.useCase.ShipmentStats(ctx, actor)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, stats)
}

func (h *WorkflowHandler) ReceiveShipment(c *gin.Context) {
	ctx, span, actor := h.start(c, "receive_shipment")
	defer span.End()

	shipment, err := h.useCase.ReceiveShipment(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, shipment)
}

// ConfirmShipment confirms a received shipment and returns the sewing order
// it created
func (h *WorkflowHandler) ConfirmShipment(c *gin.Context) {
	ctx, span, actor := h.start(c, "confirm_shipment")
	defer span.End()

	var req ConfirmShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	order, err := h.useCase.ConfirmShipment(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("sewing_order_id", order.ID))
	respond(c, http.StatusOK, order)
}

func (h *WorkflowHandler) ReportProblem(c *gin.Context) {
	ctx, span, actor := h.start(c, "report_problem")
	defer span.End()

	var req ReportProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	shipment, err := h.useCase.ReportProblem(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, shipment)
}

func (h *WorkflowHandler) ListSewingOrders(c *gin.Context) {
	ctx, span, actor := h.start(c, "list_sewing_orders")
	defer span.End()

	orders, err := h.useCase.ListSewingOrders(ctx, actor)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, orders)
}

func (h *WorkflowHandler) StartSewingOrder(c *gin.Context) {
	ctx, span, actor := h.start(c, "start_sewing_order")
	defer span.End()

	order, err := h.useCase.StartSewingOrder(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, order)
}

func (h *WorkflowHandler) CompleteSewingOrder(c *gin.Context) {
	ctx, span, actor := h.start(c, "complete_sewing_order")
	defer span.End()

	// The body is optional.
	var req CompleteSewingOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, span, err)
			return
		}
	}

	order, err := h.useCase.CompleteSewingOrder(ctx, actor, c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, order)
}

// VerifyMaterial records one lab result
func (h *WorkflowHandler) VerifyMaterial(c *gin.Context) {
	ctx, span, actor := h.start(c, "verify_material")
	defer span.End()

	var req VerifyMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("product_model_id", req.ProductModelID),
		attribute.String("material_name", req.MaterialName),
	)

	result, err := h.useCase.VerifyMaterial(ctx, actor, req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, result)
}

func (h *WorkflowHandler) ListTestResults(c *gin.Context) {
	ctx, span, _ := h.start(c, "list_test_results")
	defer span.End()

	results, err := h.useCase.ListTestResults(ctx, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, results)
}

// HealthCheck reports service health
func (h *WorkflowHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "workflow-service",
	})
}
