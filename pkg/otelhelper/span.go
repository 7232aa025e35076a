package otelhelper

import (
	"context"

	"github.com/dukex/fileflow/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// ExecutionAttributes describes an execution for its root span.
func ExecutionAttributes(execution *models.WorkflowExecution) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(WorkflowIDKey, execution.WorkflowID),
		attribute.String(WorkflowNameKey, execution.WorkflowName),
		attribute.String(ExecutionIDKey, execution.ID),
		attribute.String(TriggerSourceKey, string(execution.TriggerSource)),
	}

	if fileID, ok := execution.TriggerPayload["file_id"].(string); ok && fileID != "" {
		attrs = append(attrs, attribute.String(FileIDKey, fileID))
	}

	return attrs
}

// RecordFailure marks the span failed and tags it with the error kind.
func RecordFailure(span trace.Span, err error, kind models.ErrorKind) {
	span.RecordError(err, trace.WithAttributes(attribute.String(ErrorKindKey, string(kind))))
	span.SetStatus(codes.Error, err.Error())
}

// RecordOutcome stamps the terminal status of an execution on its span.
func RecordOutcome(span trace.Span, status models.ExecutionStatus, kind models.ErrorKind, message string) {
	span.SetAttributes(attribute.String(StatusKey, string(status)))

	if status == models.ExecutionStatusCompleted {
		span.SetStatus(codes.Ok, "")

		return
	}

	span.SetAttributes(attribute.String(ErrorKindKey, string(kind)))
	span.SetStatus(codes.Error, message)
}
