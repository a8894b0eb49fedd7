package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/atelier-supply/workflow/composition"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ApprovalCheck is the dry-run outcome of the approval gate.
type ApprovalCheck struct {
	ProductModelID string                  `json:"product_model_id"`
	ProductIDHash  string                  `json:"product_id_hash"`
	Ready          bool                    `json:"ready"`
	Reason         string                  `json:"reason,omitempty"`
	Validation     *composition.Validation `json:"validation,omitempty"`
	TestResults    []TestResult            `json:"test_results"`

	product *ProductModel
}

// ApprovalResult is returned once a model is approved.
type ApprovalResult struct {
	Product *ProductModel    `json:"product"`
	Receipt *ApprovalReceipt `json:"receipt,omitempty"`
}

// ApprovalGate cross-checks lab results against the declared composition
// and approves the model on chain.
type ApprovalGate struct {
	repository      Repository
	registry        ProductRegistry
	recorder        ApprovalRecorder
	lock            ApprovalLock
	matchMode       composition.MatchMode
	logger          *zap.Logger
	tracer          trace.Tracer
	outcomesCounter metric.Int64Counter
}

// NewApprovalGate creates an ApprovalGate. A nil registry disables
// server-side signing and receipt verification.
func NewApprovalGate(
	repository Repository,
	registry ProductRegistry,
	recorder ApprovalRecorder,
	lock ApprovalLock,
	matchMode composition.MatchMode,
	logger *zap.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
) (*ApprovalGate, error) {
	outcomesCounter, err := meter.Int64Counter(
		"workflow.approvals",
		metric.WithDescription("Approval gate outcomes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approvals counter: %w", err)
	}

	return &ApprovalGate{
		repository:      repository,
		registry:        registry,
		recorder:        recorder,
		lock:            lock,
		matchMode:       matchMode,
		logger:          logger,
		tracer:          tracer,
		outcomesCounter: outcomesCounter,
	}, nil
}

func (g *ApprovalGate) countOutcome(ctx context.Context, mode, outcome string) {
	g.outcomesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// Check evaluates the preconditions in order, then the composition
// validation. It never writes.
func (g *ApprovalGate) Check(ctx context.Context, productModelID string) (*ApprovalCheck, error) {
	product, err := g.repository.GetProductModel(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	results, err := g.repository.ListTestResults(ctx, productModelID)
	if err != nil {
		return nil, err
	}

	check := &ApprovalCheck{
		ProductModelID: product.ID,
		ProductIDHash:  ProductIDHash(product.ID).Hex(),
		TestResults:    results,
		product:        product,
	}

	if err := product.CheckApprovalPreconditions(len(results)); err != nil {
		check.Reason = err.(*PreconditionError).Reason
		return check, nil
	}

	validation := composition.ValidateTestResults(product.Materials, toCompositionResults(results), g.matchMode)
	check.Validation = &validation
	if !validation.Valid {
		check.Reason = validation.Reason
		return check, nil
	}

	check.Ready = true
	return check, nil
}

func toCompositionResults(results []TestResult) []composition.TestResult {
	out := make([]composition.TestResult, 0, len(results))
	for _, r := range results {
		out = append(out, composition.TestResult{MaterialName: r.MaterialName, Percentage: r.Percentage})
	}
	return out
}

// ApproveOnChain runs the full gate with the server's signer: lock, checks,
// signer authorization, approveProduct, wait until mined, then persist. Any failure
// before the receipt leaves the model in testing.
func (g *ApprovalGate) ApproveOnChain(ctx context.Context, actor Actor, productModelID string) (*ApprovalResult, error) {
	ctx, span := g.tracer.Start(ctx, "approve_onchain")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_model_id", productModelID),
		attribute.String("actor.id", actor.ID),
	)

	if err := actor.require(ActorTester); err != nil {
		return nil, err
	}
	if g.registry == nil {
		return nil, ErrSignerUnavailable
	}

	// 1. One approval in flight per product. The check below must see the
	// state left by any approval that finished while we waited.
	release, err := g.lock.Acquire(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 2. Preconditions and composition validation
	check, err := g.Check(ctx, productModelID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !check.Ready {
		g.countOutcome(ctx, "onchain", "rejected")
		g.logger.Warn("❌ [APPROVE ONCHAIN] gate rejected",
			zap.String("product_model_id", productModelID),
			zap.String("reason", check.Reason))
		return nil, rejection(check)
	}

	// 3. Signer authorization
	signer, err := g.registry.VerifySigner(ctx)
	if err != nil {
		span.RecordError(err)
		g.countOutcome(ctx, "onchain", "signer_error")
		return nil, err
	}

	// 4. Send and wait until mined
	productID := ProductIDHash(productModelID)
	receipt, err := g.registry.ApproveProduct(ctx, productID, toChainResults(check.TestResults),
		check.product.Materials, check.product.DevelopmentStage)
	if err != nil {
		span.RecordError(err)
		g.countOutcome(ctx, "onchain", "chain_error")
		g.logger.Error("❌ [APPROVE ONCHAIN] transaction failed",
			zap.String("product_model_id", productModelID),
			zap.String("signer", signer.Hex()),
			zap.Error(err))
		return nil, err
	}

	// 5. Persist only after the receipt
	record := ApprovalRecord{
		ProductModelID:    productModelID,
		TxHash:            receipt.TxHash.Hex(),
		TesterID:          actor.ID,
		Signer:            signer.Hex(),
		RequiredMaterials: check.product.Materials,
	}
	if err := g.recorder.RecordApproval(ctx, record); err != nil {
		span.RecordError(err)
		g.logger.Error("❌ [APPROVE ONCHAIN] mined but not recorded",
			zap.String("product_model_id", productModelID),
			zap.String("tx_hash", record.TxHash),
			zap.Error(err))
		return nil, err
	}

	g.countOutcome(ctx, "onchain", "approved")
	g.logger.Info("✅ [APPROVE ONCHAIN] product approved",
		zap.String("product_model_id", productModelID),
		zap.String("tx_hash", record.TxHash),
		zap.Uint64("block", receipt.BlockNumber))

	product, err := g.repository.GetProductModel(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	return &ApprovalResult{Product: product, Receipt: receipt}, nil
}

// RecordExternal records an approval signed by the tester's own wallet. The
// receipt is verified before anything is written.
func (g *ApprovalGate) RecordExternal(ctx context.Context, actor Actor, productModelID string, req RecordApprovalRequest) (*ApprovalResult, error) {
	ctx, span := g.tracer.Start(ctx, "record_external_approval")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_model_id", productModelID),
		attribute.String("tx_hash", req.TxHash),
	)

	if err := actor.require(ActorTester); err != nil {
		return nil, err
	}
	if !txHashPattern.MatchString(req.TxHash) {
		return nil, fmt.Errorf("%w: txHash must be a 0x-prefixed 32-byte hex string", ErrValidation)
	}

	check, err := g.Check(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	product := check.product

	if product.DevelopmentStage == StageApproved {
		if strings.EqualFold(product.ApprovalTxHash, req.TxHash) {
			return &ApprovalResult{Product: product}, nil
		}
		return nil, fmt.Errorf("%w: product model %s was approved by transaction %s",
			ErrConflict, product.ID, product.ApprovalTxHash)
	}
	if !check.Ready {
		g.countOutcome(ctx, "external", "rejected")
		return nil, rejection(check)
	}
	if req.RequiredMaterials != "" && strings.TrimSpace(req.RequiredMaterials) != strings.TrimSpace(product.Materials) {
		return nil, fmt.Errorf("%w: requiredMaterials %q do not match the declared materials %q",
			ErrValidation, req.RequiredMaterials, product.Materials)
	}
	if g.registry == nil {
		return nil, ErrSignerUnavailable
	}

	receipt, err := g.registry.VerifyApproval(ctx, common.HexToHash(req.TxHash), ProductIDHash(productModelID))
	if err != nil {
		span.RecordError(err)
		g.countOutcome(ctx, "external", "chain_error")
		return nil, err
	}

	record := ApprovalRecord{
		ProductModelID:    productModelID,
		TxHash:            receipt.TxHash.Hex(),
		TesterID:          actor.ID,
		Signer:            receipt.Tester.Hex(),
		RequiredMaterials: product.Materials,
	}
	if err := g.recorder.RecordApproval(ctx, record); err != nil {
		span.RecordError(err)
		return nil, err
	}

	g.countOutcome(ctx, "external", "approved")
	g.logger.Info("✅ [RECORD APPROVAL] wallet-signed approval verified",
		zap.String("product_model_id", productModelID),
		zap.String("tx_hash", record.TxHash),
		zap.String("tester", record.Signer))

	product, err = g.repository.GetProductModel(ctx, productModelID)
	if err != nil {
		return nil, err
	}
	return &ApprovalResult{Product: product, Receipt: receipt}, nil
}

func rejection(check *ApprovalCheck) error {
	if check.Validation != nil && !check.Validation.Valid {
		return fmt.Errorf("%w: %s", ErrApprovalRejected, check.Validation.Reason)
	}
	return &PreconditionError{Reason: check.Reason}
}
