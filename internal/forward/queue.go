// Package forward moves records from connection handlers to downstream
// sinks through one bounded queue.
package forward

import (
	"context"
	"errors"
	"sync"

	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
)

// ErrClosed is returned by Put after Close.
var ErrClosed = errors.New("forward: queue closed")

// Queue is a bounded FIFO shared by all connections. Put blocks while the
// queue is full, which back-pressures the TCP readers.
type Queue struct {
	ch        chan *record.Record
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(size int) *Queue {
	return &Queue{
		ch:   make(chan *record.Record, size),
		done: make(chan struct{}),
	}
}

func (q *Queue) Put(ctx context.Context, r *record.Record) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- r:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the next record. After Close it keeps returning queued
// records and reports false once the queue is empty.
func (q *Queue) Get(ctx context.Context) (*record.Record, bool) {
	select {
	case r := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return r, true
	case <-ctx.Done():
		return nil, false
	case <-q.done:
	}
	select {
	case r := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return r, true
	default:
		return nil, false
	}
}

// Close stops further puts. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }
