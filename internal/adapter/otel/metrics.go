package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "harnessforge"

// Metrics holds all HarnessForge metric instruments.
type Metrics struct {
	SessionsStarted  metric.Int64Counter
	SessionsFinished metric.Int64Counter
	Compiles         metric.Int64Counter
	FuzzRuns         metric.Int64Counter
	FixIterations    metric.Int64Counter
	ToolCalls        metric.Int64Counter
	SessionDuration  metric.Float64Histogram
	CompileDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetMeterProvider())
}

// NewMetricsWith creates all metric instruments on mp.
func NewMetricsWith(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("harnessforge.sessions.started",
		metric.WithDescription("Number of sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsFinished, err = meter.Int64Counter("harnessforge.sessions.finished",
		metric.WithDescription("Number of sessions finished, by status and reason"))
	if err != nil {
		return nil, err
	}

	m.Compiles, err = meter.Int64Counter("harnessforge.compiles",
		metric.WithDescription("Compile attempts by outcome category"))
	if err != nil {
		return nil, err
	}

	m.FuzzRuns, err = meter.Int64Counter("harnessforge.fuzz_runs",
		metric.WithDescription("Fuzz evaluations by outcome category"))
	if err != nil {
		return nil, err
	}

	m.FixIterations, err = meter.Int64Counter("harnessforge.fix_iterations",
		metric.WithDescription("Number of repair iterations"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("harnessforge.toolcalls",
		metric.WithDescription("Number of retrieval tool calls"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("harnessforge.session.duration_seconds",
		metric.WithDescription("Session duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.CompileDuration, err = meter.Float64Histogram("harnessforge.compile.duration_seconds",
		metric.WithDescription("Compile duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
