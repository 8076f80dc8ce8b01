package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/rentflow/internal/clock"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	"go.uber.org/zap"
)

// Sink delivers events to one kind of observer.
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// DefaultSendTimeout bounds one Broadcast call across all sinks.
const DefaultSendTimeout = 2 * time.Second

// Broadcaster sends every event to all sinks. Delivery is best effort and
// failures are only logged.
type Broadcaster struct {
	log        *zap.Logger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
	origin     string
	sinks      []Sink
	timeout    time.Duration
}

func New(log *zap.Logger, clk clock.Clock, metrics *obsmetrics.Metrics, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		log:        log.Named("broadcast"),
		clock:      clk,
		obsMetrics: metrics,
		origin:     ulid.Make().String(),
		sinks:      sinks,
		timeout:    DefaultSendTimeout,
	}
}

// SetSendTimeout changes the deadline applied to each Broadcast call.
// Non-positive values restore the default.
func (b *Broadcaster) SetSendTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultSendTimeout
	}
	b.timeout = d
}

func (b *Broadcaster) Origin() string {
	return b.origin
}

// Broadcast fans the event out to all sinks concurrently and returns once
// every sink finished or the send timeout passed. A sink still running at
// the deadline is abandoned and counted as failed.
func (b *Broadcaster) Broadcast(ctx context.Context, kind string, payload any) {
	if b == nil {
		return
	}
	event := newEvent(kind, payload, b.origin, b.clock.Now())

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, sink := range b.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := b.deliver(ctx, sink, event); err != nil {
				b.log.Warn("broadcast failed",
					zap.String("sink", sink.Name()),
					zap.String("kind", kind),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				b.obsMetrics.RecordBroadcastFailure(ctx, sink.Name())
			}
		}(sink)
	}
	wg.Wait()
}

func (b *Broadcaster) deliver(ctx context.Context, sink Sink, event Event) error {
	done := make(chan error, 1)
	go func() { done <- b.send(ctx, sink, event) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("sink %s: %w", sink.Name(), ctx.Err())
	}
}

func (b *Broadcaster) send(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Send(ctx, event)
}
