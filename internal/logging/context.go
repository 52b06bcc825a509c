package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for item identifiers.
	FieldItemID = "item_id"
	// FieldStep is the standardized structured logging key for pipeline step names.
	FieldStep = "step"
	// FieldCorrelationID is the standardized structured logging key for attempt correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries a short remediation hint alongside errors.
	FieldErrorHint = "error_hint"
)

type contextKey string

const (
	ctxKeyItemID        contextKey = "item_id"
	ctxKeyStep          contextKey = "step"
	ctxKeyCorrelationID contextKey = "correlation_id"
)

// WithItemID attaches an item identifier to the context for log enrichment.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyItemID, id)
}

// WithStep attaches a pipeline step name to the context for log enrichment.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, ctxKeyStep, step)
}

// WithCorrelationID attaches an attempt correlation identifier to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(ctxKeyItemID).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldItemID, id))
	}
	if step, ok := ctx.Value(ctxKeyStep).(string); ok && step != "" {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if rid, ok := ctx.Value(ctxKeyCorrelationID).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
