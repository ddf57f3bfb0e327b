package forward

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
)

// Sink is a downstream consumer of records.
type Sink interface {
	Name() string
	Write(ctx context.Context, r *record.Record) error
	Ready() bool
	Close() error
}

// Forwarder drains a queue into its sinks. A single forwarder goroutine
// keeps records in queue order for every sink.
type Forwarder struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewForwarder(sinks []Sink, logger *zap.Logger) *Forwarder {
	return &Forwarder{sinks: sinks, logger: logger}
}

// Run processes records until the context is cancelled or the queue is
// closed and drained.
func (f *Forwarder) Run(ctx context.Context, q *Queue) {
	for {
		r, ok := q.Get(ctx)
		if !ok {
			return
		}
		f.forward(ctx, r)
	}
}

func (f *Forwarder) forward(ctx context.Context, r *record.Record) {
	for _, s := range f.sinks {
		start := time.Now()
		err := s.Write(ctx, r)
		metrics.ForwardDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.ForwardedTotal.WithLabelValues(s.Name(), "error").Inc()
			f.logger.Warn("forward failed",
				zap.String("sink", s.Name()),
				zap.String("conn", r.Conn),
				zap.Int64("offset", r.Offset),
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
			continue
		}
		metrics.ForwardedTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// Sinks returns the configured sinks.
func (f *Forwarder) Sinks() []Sink { return f.sinks }

// Close closes every sink and returns the first error.
func (f *Forwarder) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
