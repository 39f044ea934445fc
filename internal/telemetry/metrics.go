package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds the linkd metric instruments.
type Metrics struct {
	StepDuration     metric.Float64Histogram
	StepErrors       metric.Int64Counter
	LinksCreated     metric.Int64Counter
	DuplicateRejects metric.Int64Counter
	TasksCreated     metric.Int64Counter
	ChainSubmits     metric.Int64Counter
	RequestDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StepDuration, err = meter.Float64Histogram("linkd.saga.step.duration",
		metric.WithDescription("Saga step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StepErrors, err = meter.Int64Counter("linkd.saga.step.errors",
		metric.WithDescription("Saga step failure count by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.LinksCreated, err = meter.Int64Counter("linkd.links.created",
		metric.WithDescription("Link records persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.DuplicateRejects, err = meter.Int64Counter("linkd.links.duplicates",
		metric.WithDescription("Begin-link calls rejected by the uniqueness constraint"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCreated, err = meter.Int64Counter("linkd.tasks.created",
		metric.WithDescription("Task records persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.ChainSubmits, err = meter.Int64Counter("linkd.chain.submits",
		metric.WithDescription("Chain submit attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("linkd.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
