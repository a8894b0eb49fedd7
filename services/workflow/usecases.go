package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atelier-supply/workflow/composition"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WorkflowUseCase holds the transition logic of the supply-chain workflow.
// Every transition runs in one database transaction: lock the row, apply the
// entity method, write the row and its audit event, commit.
type WorkflowUseCase struct {
	repository        Repository
	logger            *zap.Logger
	tracer            trace.Tracer
	transitionCounter metric.Int64Counter
	now               func() time.Time
}

// NewWorkflowUseCase creates a WorkflowUseCase.
func NewWorkflowUseCase(
	repository Repository,
	logger *zap.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
) (*WorkflowUseCase, error) {
	transitionCounter, err := meter.Int64Counter(
		"workflow.transitions",
		metric.WithDescription("Committed workflow state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}

	return &WorkflowUseCase{
		repository:        repository,
		logger:            logger,
		tracer:            tracer,
		transitionCounter: transitionCounter,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

// transitionLog collects the audit events of one transaction.
type transitionLog struct {
	ctx        context.Context
	repository Repository
	tx         Tx
	actor      Actor
	now        time.Time
	events     []*WorkflowEvent
}

func (l *transitionLog) record(entity, entityID, productModelID, from, to, note string) error {
	event := NewWorkflowEvent(entity, entityID, productModelID, from, to, l.actor, note, l.now)
	if err := l.repository.AppendEvent(l.ctx, l.tx, event); err != nil {
		return err
	}
	l.events = append(l.events, event)
	return nil
}

// inTx runs fn in a transaction and counts its events once committed.
func (uc *WorkflowUseCase) inTx(ctx context.Context, operation string, actor Actor, fn func(tx Tx, log *transitionLog) error) error {
	ctx, span := uc.tracer.Start(ctx, operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.kind", string(actor.Kind)),
	)

	// 1. Begin the transaction
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Lock, transition and write inside fn
	log := &transitionLog{ctx: ctx, repository: uc.repository, tx: tx, actor: actor, now: uc.now()}
	if err := fn(tx, log); err != nil {
		span.RecordError(err)
		uc.logger.Warn(fmt.Sprintf("❌ [%s] rejected", strings.ToUpper(operation)),
			zap.String("actor_id", actor.ID), zap.Error(err))
		return err
	}

	// 3. Commit
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit %s: %w", operation, err)
	}

	for _, event := range log.events {
		uc.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", event.Entity),
			attribute.String("to_status", event.ToStatus),
		))
		uc.logger.Info(fmt.Sprintf("✅ [%s] %s %s -> %s", strings.ToUpper(operation), event.Entity, orNone(event.FromStatus), event.ToStatus),
			zap.String("entity_id", event.EntityID),
			zap.String("product_model_id", event.ProductModelID),
			zap.String("actor_id", actor.ID))
	}
	return nil
}

func orNone(status string) string {
	if status == "" {
		return "(none)"
	}
	return status
}

// CreateProductModel registers a product model in stage idea. A declared
// composition must total 100.
func (uc *WorkflowUseCase) CreateProductModel(ctx context.Context, actor Actor, req CreateProductModelRequest) (*ProductModel, error) {
	if err := actor.require(ActorDesigner); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	materials := strings.TrimSpace(req.Materials)
	if materials != "" {
		if total := composition.ValidateTotal(materials); !total.IsValid {
			return nil, fmt.Errorf("%w: materials: %s", ErrValidation, total.Reason)
		}
	}

	now := uc.now()
	product := &ProductModel{
		ID:               uuid.New().String(),
		Name:             name,
		DevelopmentStage: StageIdea,
		Materials:        materials,
		MaterialStatus:   MaterialStatusNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := uc.inTx(ctx, "create_product_model", actor, func(tx Tx, log *transitionLog) error {
		if err := uc.repository.CreateProductModel(ctx, tx, product); err != nil {
			return err
		}
		return log.record(EntityProductModel, product.ID, product.ID, "", product.DevelopmentStage, "")
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetProductModel loads a model with its derived material status.
func (uc *WorkflowUseCase) GetProductModel(ctx context.Context, id string) (*ProductModel, error) {
	product, err := uc.repository.GetProductModel(ctx, id)
	if err != nil {
		return nil, err
	}

	request, err := uc.repository.LatestMaterialRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	var shipment *Shipment
	if request != nil {
		shipment, err = uc.repository.LatestShipmentForRequest(ctx, request.ID)
		if err != nil {
			return nil, err
		}
	}
	product.MaterialStatus = DeriveMaterialStatus(request, shipment)
	return product, nil
}

// AdvanceStage moves a model one stage forward.
func (uc *WorkflowUseCase) AdvanceStage(ctx context.Context, actor Actor, id string, req AdvanceStageRequest) (*ProductModel, error) {
	var product *ProductModel
	err := uc.inTx(ctx, "advance_stage", actor, func(tx Tx, log *transitionLog) error {
		var err error
		product, err = uc.repository.GetProductModelForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from := product.DevelopmentStage
		if err := product.AdvanceStage(actor, req.Stage, log.now); err != nil {
			return err
		}
		if err := uc.repository.UpdateProductModel(ctx, tx, product); err != nil {
			return err
		}
		return log.record(EntityProductModel, product.ID, product.ID, from, product.DevelopmentStage, "")
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// ListEvents returns the audit trail of a model.
func (uc *WorkflowUseCase) ListEvents(ctx context.Context, productModelID string) ([]WorkflowEvent, error) {
	if _, err := uc.repository.GetProductModel(ctx, productModelID); err != nil {
		return nil, err
	}
	return uc.repository.ListEvents(ctx, productModelID)
}

// VerifyMaterial records one lab result for a model in testing.
func (uc *WorkflowUseCase) VerifyMaterial(ctx context.Context, actor Actor, req VerifyMaterialRequest) (*TestResult, error) {
	if req.Percentage == nil {
		return nil, fmt.Errorf("%w: percentage is required", ErrValidation)
	}

	var result *TestResult
	err := uc.inTx(ctx, "verify_material", actor, func(tx Tx, log *transitionLog) error {
		product, err := uc.repository.GetProductModelForUpdate(ctx, tx, req.ProductModelID)
		if err != nil {
			return err
		}
		result, err = NewTestResult(actor, product, req.MaterialName, *req.Percentage, req.CertificateHash, req.Notes, log.now)
		if err != nil {
			return err
		}
		if err := uc.repository.CreateTestResult(ctx, tx, result); err != nil {
			return err
		}
		note := fmt.Sprintf("%s %d%%", result.MaterialName, result.Percentage)
		return log.record(EntityTestResult, result.ID, product.ID, "", "recorded", note)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTestResults returns every result recorded for a model.
func (uc *WorkflowUseCase) ListTestResults(ctx context.Context, productModelID string) ([]TestResult, error) {
	if _, err := uc.repository.GetProductModel(ctx, productModelID); err != nil {
		return nil, err
	}
	return uc.repository.ListTestResults(ctx, productModelID)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
