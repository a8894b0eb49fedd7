package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const internalTokenHeader = "X-Internal-Token"

// ApprovalGateInterface is what the HTTP layer needs from the approval gate.
type ApprovalGateInterface interface {
	Check(ctx context.Context, productModelID string) (*ApprovalCheck, error)
	ApproveOnChain(ctx context.Context, actor Actor, productModelID string) (*ApprovalResult, error)
	RecordExternal(ctx context.Context, actor Actor, productModelID string, req RecordApprovalRequest) (*ApprovalResult, error)
}

// ApprovalHandler contains the tester endpoints and the DTM branch target.
type ApprovalHandler struct {
	gate          ApprovalGateInterface
	recorder      ApprovalRecorder
	internalToken string
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewApprovalHandler creates an ApprovalHandler. recorder is the local
// persistence the DTM branch calls into.
func NewApprovalHandler(gate ApprovalGateInterface, recorder ApprovalRecorder, internalToken string, logger *zap.Logger, tracer trace.Tracer) *ApprovalHandler {
	return &ApprovalHandler{
		gate:          gate,
		recorder:      recorder,
		internalToken: internalToken,
		logger:        logger,
		tracer:        tracer,
	}
}

// ApprovalCheck is the tester's dry run of the gate
func (h *ApprovalHandler) ApprovalCheck(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "approval_check")
	defer span.End()
	span.SetAttributes(attribute.String("product_model_id", c.Param("id")))

	check, err := h.gate.Check(ctx, c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, check)
}

// ApproveOnChain signs approveProduct with the server key and blocks until
// the transaction is mined
func (h *ApprovalHandler) ApproveOnChain(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "approve_onchain_request")
	defer span.End()
	span.SetAttributes(attribute.String("product_model_id", c.Param("id")))

	result, err := h.gate.ApproveOnChain(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// RecordApproval records an approval the tester's wallet already mined
func (h *ApprovalHandler) RecordApproval(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "record_approval_request")
	defer span.End()
	span.SetAttributes(attribute.String("product_model_id", c.Param("id")))

	var req RecordApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, span, err)
		return
	}

	result, err := h.gate.RecordExternal(ctx, actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, span, h.logger, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// InternalRecordApproval is the DTM msg branch. Retryable failures answer
// 500 so DTM retries; permanent ones answer 409 with FAILURE so it stops.
func (h *ApprovalHandler) InternalRecordApproval(c *gin.Context) {
	token := c.GetHeader(internalTokenHeader)
	if h.internalToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.internalToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token"})
		return
	}

	var record ApprovalRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "error": err.Error()})
		return
	}

	err := h.recorder.RecordApproval(c.Request.Context(), record)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError || errors.Is(err, ErrChainUnavailable) {
			h.logger.Error("❌ [INTERNAL APPROVAL] retryable failure",
				zap.String("product_model_id", record.ProductModelID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		h.logger.Warn("❌ [INTERNAL APPROVAL] permanent failure",
			zap.String("product_model_id", record.ProductModelID),
			zap.String("code", code),
			zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "error": err.Error(), "code": code})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
}
