package main

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	ServiceName       string
	JWTSecret         string
	ApprovalRateLimit gin.HandlerFunc
	Logger            *zap.Logger
	// Tracing is off in tests.
	Tracing bool
}

// NewRouter wires every workflow endpoint under /api.
func NewRouter(h *WorkflowHandler, ah *ApprovalHandler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(opts.Logger))
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}

	// Health check
	r.GET("/health", h.HealthCheck)

	// DTM branch target, authenticated by the shared internal token
	r.POST("/internal/approvals", ah.InternalRecordApproval)

	api := r.Group("/api", JWTAuth(opts.JWTSecret))

	api.GET("/products/:id", h.GetProductModel)
	api.GET("/products/:id/events", h.ListEvents)

	designer := api.Group("/designer", RequireKind(ActorDesigner))
	designer.POST("/products", h.CreateProductModel)
	designer.PATCH("/products/:id/stage", h.AdvanceStage)
	designer.POST("/material-requests", h.CreateMaterialRequest)
	designer.GET("/material-requests", h.ListDesignerRequests)

	supplier := api.Group("/supplier", RequireKind(ActorSupplier))
	supplier.GET("/inventory", h.ListInventory)
	supplier.POST("/inventory", h.CreateInventoryItem)
	supplier.PATCH("/inventory/:id", h.UpdateInventoryItem)
	supplier.PATCH("/inventory/:id/status", h.SetInventoryStatus)
	supplier.GET("/requests", h.ListSupplierRequests)
	supplier.GET("/requests/:id/availability", h.Availability)
	supplier.PATCH("/requests/:id/accept", h.AcceptRequest)
	supplier.PATCH("/requests/:id/reject", h.RejectRequest)
	supplier.PATCH("/requests/:id/prepare", h.PrepareRequest)
	supplier.POST("/requests/:id/send-to-manufacturer", h.SendToManufacturer)

	manufacturer := api.Group("/manufacturer", RequireKind(ActorManufacturer))
	manufacturer.GET("/shipments", h.ListShipments)
	manufacturer.GET("/shipments/stats", h.ShipmentStats)
	manufacturer.PATCH("/shipments/:id/receive", h.ReceiveShipment)
	manufacturer.PATCH("/shipments/:id/confirm", h.ConfirmShipment)
	manufacturer.PATCH("/shipments/:id/report-problem", h.ReportProblem)
	manufacturer.GET("/sewing-orders", h.ListSewingOrders)
	manufacturer.PATCH("/sewing-orders/:id/start", h.StartSewingOrder)
	manufacturer.PATCH("/sewing-orders/:id/complete", h.CompleteSewingOrder)

	lab := api.Group("/lab", RequireKind(ActorLab))
	lab.POST("/verify-material", h.VerifyMaterial)
	lab.GET("/products/:id/results", h.ListTestResults)

	tester := api.Group("/tester", RequireKind(ActorTester))
	tester.GET("/products/:id/approval-check", ah.ApprovalCheck)
	tester.POST("/products/:id/approve", ah.RecordApproval)
	if opts.ApprovalRateLimit != nil {
		tester.POST("/products/:id/approve-onchain", opts.ApprovalRateLimit, ah.ApproveOnChain)
	} else {
		tester.POST("/products/:id/approve-onchain", ah.ApproveOnChain)
	}

	return r
}
