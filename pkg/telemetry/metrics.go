// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rumbo-ai/rumbo/pkg/errors"
)

// EngineMetrics tracks turn throughput, tool invocations, condition
// evaluations and error rates for production monitoring.
type EngineMetrics struct {
	// turnCounter tracks completed turns by agent and outcome
	turnCounter metric.Int64Counter

	// turnDuration tracks turn latency in milliseconds
	turnDuration metric.Float64Histogram

	// evalCounter tracks condition evaluations by verdict
	evalCounter metric.Int64Counter

	// toolCounter tracks tool invocations by id and success
	toolCounter metric.Int64Counter

	// errorCounter tracks errors by code and component
	errorCounter metric.Int64Counter
}

// NewEngineMetrics creates a new metrics tracker with OTEL meters.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("rumbo/engine")

	turnCounter, err := meter.Int64Counter(
		"rumbo.turns.total",
		metric.WithDescription("Completed turns by agent and outcome"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram(
		"rumbo.turn.duration_ms",
		metric.WithDescription("Turn latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evalCounter, err := meter.Int64Counter(
		"rumbo.conditions.evaluated",
		metric.WithDescription("Condition evaluations by verdict"),
	)
	if err != nil {
		return nil, err
	}

	toolCounter, err := meter.Int64Counter(
		"rumbo.tools.invoked",
		metric.WithDescription("Tool invocations by id and success"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"rumbo.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		turnCounter:  turnCounter,
		turnDuration: turnDuration,
		evalCounter:  evalCounter,
		toolCounter:  toolCounter,
		errorCounter: errorCounter,
	}, nil
}

// RecordTurn records a completed turn with its outcome and duration.
func (em *EngineMetrics) RecordTurn(ctx context.Context, agentName, outcome string, durationMs float64) {
	if em == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("outcome", outcome),
	)
	em.turnCounter.Add(ctx, 1, attrs)
	em.turnDuration.Record(ctx, durationMs, attrs)
}

// RecordEvaluation records a single condition evaluation.
func (em *EngineMetrics) RecordEvaluation(ctx context.Context, verdict bool) {
	if em == nil {
		return
	}
	em.evalCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("verdict", verdict),
		),
	)
}

// RecordToolInvocation records a tool invocation outcome.
func (em *EngineMetrics) RecordToolInvocation(ctx context.Context, toolID string, success bool) {
	if em == nil {
		return
	}
	em.toolCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", toolID),
			attribute.Bool("success", success),
		),
	)
}

// RecordError increments the error counter for the given error and component.
func (em *EngineMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	if re := errors.AsRumboError(err); re != nil {
		em.errorCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("error.code", string(re.Code)),
				attribute.String("component", component),
				attribute.String("recoverable", re.RecoverableString()),
			),
		)
		return
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", "UNKNOWN"),
			attribute.String("component", component),
			attribute.String("recoverable", "unknown"),
		),
	)
}
