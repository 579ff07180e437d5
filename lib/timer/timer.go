package timer

import (
	"context"

	"genai/lib/tracer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stepDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name: "step_duration_seconds",
	Help: "Duration of individual provisioning steps and served requests",
	Objectives: map[float64]float64{
		0.50: 0.05,
		0.90: 0.05,
		0.99: 0.01,
	},
}, []string{"step"})

// Timer measures one named step. It feeds the step duration summary, an otel span and the trace
// attached to the context, if any.
type Timer struct {
	name  string
	timer *prometheus.Timer
	span  tracer.Span
}

// Start begins timing the step. The returned context carries the step's span and must be used for the
// calls made within the step.
func Start(ctx context.Context, name string) (context.Context, Timer) {
	span := tracer.StartSpan(ctx, name)
	return span.Context(), Timer{
		name:  name,
		timer: prometheus.NewTimer(stepDuration.WithLabelValues(name)),
		span:  span,
	}
}

func (t Timer) Span() tracer.Span {
	return t.span
}

// Stop ends the step. A non-nil err marks the span as failed.
func (t Timer) Stop(err error) {
	t.timer.ObserveDuration()
	if err != nil {
		t.span.RecordError(err)
	}
	record(t.span.Context(), t.name, err)
	t.span.End()
}
