package auth

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, which keeps tests free of meter plumbing.
type Metrics struct {
	logins      metric.Int64Counter
	validations metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMetrics creates the engine metric instruments on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	logins, err := meter.Int64Counter(
		"keygate_logins_total",
		metric.WithDescription("Total login attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	validations, err := meter.Int64Counter(
		"keygate_validations_total",
		metric.WithDescription("Total validation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"keygate_session_transitions_total",
		metric.WithDescription("Total session state transitions by target state"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		logins:      logins,
		validations: validations,
		transitions: transitions,
	}, nil
}

// RecordLogin records a login attempt outcome
func (m *Metrics) RecordLogin(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordValidation records a validation attempt outcome
func (m *Metrics) RecordValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransition records a session state transition
func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
