package main

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startChainSpan creates a span for a call against the approval contract
func startChainSpan(ctx context.Context, tracer trace.Tracer, operationName string, contract common.Address) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "chain."+operationName)

	span.SetAttributes(
		attribute.String("chain.operation", operationName),
		attribute.String("chain.contract", contract.Hex()),
		attribute.String("component", "evm-registry"),
	)

	return ctx, span
}

// startApprovalMsgSpan creates a span for submitting an approval through DTM
func startApprovalMsgSpan(ctx context.Context, tracer trace.Tracer, gid string, branchURL string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "dtm.msg.record_approval")

	span.SetAttributes(
		attribute.String("dtm.gid", gid),
		attribute.String("dtm.operation", "msg"),
		attribute.String("dtm.action.url", branchURL),
		attribute.String("component", "dtm-coordinator"),
	)

	return ctx, span
}

// spanContextIDs returns the trace and span ids to propagate in a DTM
// payload, since DTM does not forward W3C headers to branches
func spanContextIDs(ctx context.Context) (string, string) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", ""
	}
	return span.SpanContext().TraceID().String(), span.SpanContext().SpanID().String()
}

// startSpanFromRecord continues the trace carried by an approval record
func startSpanFromRecord(ctx context.Context, tracer trace.Tracer, operationName string, record ApprovalRecord) (context.Context, trace.Span) {
	if trace.SpanFromContext(ctx).SpanContext().IsValid() || record.TraceID == "" || record.SpanID == "" {
		return tracer.Start(ctx, operationName)
	}

	traceID, errTrace := trace.TraceIDFromHex(record.TraceID)
	spanID, errSpan := trace.SpanIDFromHex(record.SpanID)
	if errTrace == nil && errSpan == nil {
		ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		}))
	}
	return tracer.Start(ctx, operationName)
}
