package timer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type traceKey struct{}

type traceEvent struct {
	event   string
	failed  bool
	elapsed time.Duration
}

type trace struct {
	lock   sync.Mutex
	start  time.Time
	events []traceEvent
}

func (t *trace) record(event string, failed bool, ts time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events = append(t.events, traceEvent{
		event:   event,
		failed:  failed,
		elapsed: ts.Sub(t.start),
	})
}

// WithTracing attaches a trace to ctx. Steps timed with Start under the returned context are recorded
// in the order they finish.
func WithTracing(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey{}, &trace{
		start:  time.Now(),
		events: make([]traceEvent, 0),
	})
}

func record(ctx context.Context, event string, err error) {
	if t, ok := ctx.Value(traceKey{}).(*trace); ok {
		t.record(event, err != nil, time.Now())
	}
}

// Events returns the recorded step names in completion order.
func Events(ctx context.Context) []string {
	t, ok := ctx.Value(traceKey{}).(*trace)
	if !ok {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	events := make([]string, 0, len(t.events))
	for _, e := range t.events {
		events = append(events, e.event)
	}
	return events
}

func LogTracingInfo(ctx context.Context, log *zap.Logger) error {
	ctxval := ctx.Value(traceKey{})
	if ctxval == nil {
		return nil
	}
	t, ok := ctxval.(*trace)
	if !ok {
		return fmt.Errorf("expected trace but got: %v", ctxval)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	sb := strings.Builder{}
	sb.WriteString("====Trace====\n")
	for _, e := range t.events {
		status := "ok"
		if e.failed {
			status = "failed"
		}
		sb.WriteString(fmt.Sprintf("\t%5dms: %s (%s)\n", e.elapsed.Milliseconds(), e.event, status))
	}
	log.Debug(sb.String())
	return nil
}
