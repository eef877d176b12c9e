package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fanout publishes every event to all of its sinks concurrently. A failing
// sink does not stop the others; their errors are joined.
type Fanout struct {
	sinks []app.EventPublisher
}

func NewFanout(sinks ...app.EventPublisher) *Fanout {
	kept := make([]app.EventPublisher, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

func (f *Fanout) Publish(ctx context.Context, topic string, payload any, opts app.PublishOptions) error {
	// The group only joins the goroutines. Each sink's error lands in its own
	// slot so all of them are reported, not just the first.
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			if err := sink.Publish(ctx, topic, payload, opts); err != nil {
				errs[i] = fmt.Errorf("sink %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait() // closures never fail
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. It stands in when no broker is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload any, opts app.PublishOptions) error {
	p.log.Info("event",
		zap.String("topic", topic),
		zap.String("tenant_id", opts.TenantID),
		zap.Bool("broadcast", opts.Broadcast),
		zap.Any("payload", payload),
	)
	return nil
}
