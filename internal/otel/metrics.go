package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the relay's instruments.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	InferenceDuration metric.Float64Histogram
	TasksSubmitted    metric.Int64Counter
	TasksFinished     metric.Int64Counter
	TasksActive       metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("relay.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.InferenceDuration, err = meter.Float64Histogram("relay.inference.duration",
		metric.WithDescription("Inference provider call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksSubmitted, err = meter.Int64Counter("relay.tasks.submitted",
		metric.WithDescription("Tasks accepted by /submit"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("relay.tasks.finished",
		metric.WithDescription("Tasks that reached a terminal state, by status"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksActive, err = meter.Int64UpDownCounter("relay.tasks.active",
		metric.WithDescription("Background inference runs in flight"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics is for callers that were not handed a meter.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(Noop().Meter)
	return m
}
