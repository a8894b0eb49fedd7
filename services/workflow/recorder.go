package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtm-labs/client/dtmcli"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ApprovalRecord is the persisted outcome of a mined approval transaction.
type ApprovalRecord struct {
	ProductModelID    string `json:"product_model_id" binding:"required"`
	TxHash            string `json:"tx_hash" binding:"required"`
	TesterID          string `json:"tester_id" binding:"required"`
	Signer            string `json:"signer,omitempty"`
	RequiredMaterials string `json:"required_materials,omitempty"`
	// Manual trace context propagation (DTM doesn't propagate W3C headers)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ApprovalRecorder persists an approval once its transaction is mined.
type ApprovalRecorder interface {
	RecordApproval(ctx context.Context, record ApprovalRecord) error
}

// RecordApproval moves a model to approved with the mined transaction hash.
// Recording the same hash twice is a no-op, a different hash is a conflict.
func (uc *WorkflowUseCase) RecordApproval(ctx context.Context, record ApprovalRecord) error {
	ctx, span := startSpanFromRecord(ctx, uc.tracer, "record_approval", record)
	defer span.End()

	tester := Actor{ID: record.TesterID, Kind: ActorTester}
	return uc.inTx(ctx, "record_approval", tester, func(tx Tx, log *transitionLog) error {
		// 1. Lock the product model
		product, err := uc.repository.GetProductModelForUpdate(ctx, tx, record.ProductModelID)
		if err != nil {
			return err
		}

		// 2. Idempotency check
		if product.DevelopmentStage == StageApproved {
			if product.ApprovalTxHash == record.TxHash {
				uc.logger.Info("⚠️ [RECORD APPROVAL] already recorded, skipping",
					zap.String("product_model_id", product.ID),
					zap.String("tx_hash", record.TxHash))
				return nil
			}
			return fmt.Errorf("%w: product model %s was approved by transaction %s",
				ErrConflict, product.ID, product.ApprovalTxHash)
		}

		// 3. Transition and audit
		from := product.DevelopmentStage
		if err := product.Approve(record.TxHash, record.TesterID, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateProductModel(ctx, tx, product); err != nil {
			return err
		}
		return log.record(EntityProductModel, product.ID, product.ID, from, product.DevelopmentStage, "tx "+record.TxHash)
	})
}

// DTMApprovalRecorder hands the record to a DTM two-phase message so that the
// approval is persisted even if this process dies after mining.
type DTMApprovalRecorder struct {
	server      string
	callbackURL string
	token       string
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewDTMApprovalRecorder creates a DTMApprovalRecorder.
func NewDTMApprovalRecorder(cfg DTMConfig, logger *zap.Logger, tracer trace.Tracer) *DTMApprovalRecorder {
	return &DTMApprovalRecorder{
		server:      cfg.Server,
		callbackURL: cfg.CallbackURL,
		token:       cfg.InternalToken,
		logger:      logger,
		tracer:      tracer,
	}
}

// genGid wraps dtmcli.MustGenGid, which panics when the server is down.
func genGid(server string) (gid string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to generate gid: dtm unavailable: %v", r)
		}
	}()
	gid = dtmcli.MustGenGid(server)
	if gid == "" {
		return "", errors.New("failed to generate gid")
	}
	return gid, nil
}

func (r *DTMApprovalRecorder) RecordApproval(ctx context.Context, record ApprovalRecord) error {
	gid, err := genGid(r.server)
	if err != nil {
		return err
	}

	branchURL := r.callbackURL + "/internal/approvals"
	ctx, span := startApprovalMsgSpan(ctx, r.tracer, gid, branchURL)
	defer span.End()

	record.TraceID, record.SpanID = spanContextIDs(ctx)

	msg := dtmcli.NewMsg(r.server, gid).Add(branchURL, &record)
	msg.BranchHeaders = map[string]string{
		internalTokenHeader: r.token,
	}
	if record.TraceID != "" {
		msg.BranchHeaders["traceparent"] = fmt.Sprintf("00-%s-%s-01", record.TraceID, record.SpanID)
	}
	msg.WaitResult = true

	r.logger.Info("🚀 [RECORD APPROVAL] submitting dtm msg",
		zap.String("gid", gid),
		zap.String("product_model_id", record.ProductModelID),
		zap.String("tx_hash", record.TxHash))

	if err := msg.Submit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dtm msg submit failed")
		return fmt.Errorf("failed to submit approval record %s: %w", gid, err)
	}

	r.logger.Info("✅ [RECORD APPROVAL] dtm msg submitted", zap.String("gid", gid))
	return nil
}
