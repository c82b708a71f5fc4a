package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "orchestrator"

// Metrics holds all orchestrator metric instruments.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	RunsFailed      metric.Int64Counter
	RunDuration     metric.Float64Histogram
	OrphansDetected metric.Int64Counter
	OrphansRemoved  metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("orchestrator.runs.started",
		metric.WithDescription("Number of runs admitted and started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("orchestrator.runs.completed",
		metric.WithDescription("Number of runs reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("orchestrator.runs.failed",
		metric.WithDescription("Number of runs that ended failed or cancelled"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("orchestrator.run.duration_seconds",
		metric.WithDescription("Run duration from admission to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	m.OrphansDetected, err = meter.Int64Counter("orphans_detected_count",
		metric.WithDescription("Containers found with run labels but no active run"))
	if err != nil {
		return nil, err
	}

	m.OrphansRemoved, err = meter.Int64Counter("orphans_removed_count",
		metric.WithDescription("Orphaned containers force-removed by reconciliation"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
