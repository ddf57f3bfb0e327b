package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/bmptest"
	"github.com/route-beacon/bmp-proxy/internal/config"
	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
)

type memQueue struct {
	mu      sync.Mutex
	records []*record.Record
	err     error
}

func (q *memQueue) Put(_ context.Context, r *record.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, r)
	return nil
}

func (q *memQueue) all() []*record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*record.Record(nil), q.records...)
}

func newTestHandler(q RecordQueue) *Handler {
	cfg := config.Default().Listener
	cfg.ReadBufferBytes = 7
	h := NewHandler(q, cfg, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return h
}

// serveData writes data to one end of a pipe, closes it and serves the
// other end to completion.
func serveData(t *testing.T, h *Handler, data []byte) error {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		client.Write(data)
		client.Close()
	}()
	err := h.Serve(context.Background(), server)
	server.Close()
	return err
}

func TestServe_RecordsInStreamOrder(t *testing.T) {
	initMsg := bmptest.Initiation("edge1", "router")
	rm := bmptest.RouteMonitoring(bmptest.Update(nil))
	q := &memQueue{}

	before := testutil.ToFloat64(metrics.MessagesTotal.WithLabelValues("route_monitoring"))
	if err := serveData(t, newTestHandler(q), bmptest.Stream(initMsg, rm, rm)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs := q.all()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	wantOffsets := []int64{0, int64(len(initMsg)), int64(len(initMsg) + len(rm))}
	for i, r := range recs {
		if r.Offset != wantOffsets[i] {
			t.Errorf("record %d: offset %d, want %d", i, r.Offset, wantOffsets[i])
		}
		if r.Conn != "pipe" {
			t.Errorf("record %d: conn %q", i, r.Conn)
		}
		if r.HasErrors() {
			t.Errorf("record %d: unexpected errors %+v", i, r.Errors)
		}
	}
	if recs[0].Type != "initiation" || recs[1].Type != "route_monitoring" {
		t.Errorf("unexpected types %q %q", recs[0].Type, recs[1].Type)
	}
	if got := testutil.ToFloat64(metrics.MessagesTotal.WithLabelValues("route_monitoring")) - before; got != 2 {
		t.Errorf("expected 2 route_monitoring messages counted, got %v", got)
	}
}

func TestServe_DiscardKeepsConnection(t *testing.T) {
	good := bmptest.Initiation("edge1", "router")
	bad := append([]byte(nil), good...)
	bad[0] = 1 // version

	q := &memQueue{}
	h := newTestHandler(q)
	client, server := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), server) }()

	client.Write(good)
	client.Write(bad)
	client.Write(good)
	client.Close()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := q.all()
	if len(recs) == 0 || recs[0].Offset != 0 {
		t.Fatalf("expected the first message, got %d records", len(recs))
	}
	// The message after the failure arrives in later reads and is framed
	// again once the discarded bytes are gone.
	last := recs[len(recs)-1]
	if last.Type != "initiation" || last.Offset != int64(2*len(good)) {
		t.Errorf("expected recovery at offset %d, got %s at %d", 2*len(good), last.Type, last.Offset)
	}
}

func TestServe_DecodeFailureStillForwarded(t *testing.T) {
	bad := bmptest.Update(nil)
	bad[3] = 0 // marker
	q := &memQueue{}

	if err := serveData(t, newTestHandler(q), bmptest.RouteMonitoring(bad)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := q.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].HasErrors() || recs[0].Peer == nil {
		t.Errorf("expected a peer and a bgp error, got %+v", recs[0])
	}
}

func TestServe_ContextCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestHandler(&memQueue{}).Serve(ctx, server) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_IdleTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := newTestHandler(&memQueue{})
	h.now = time.Now
	h.idleTimeout = 20 * time.Millisecond

	err := h.Serve(context.Background(), server)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected a timeout error, got %v", err)
	}
}

func TestServe_QueueError(t *testing.T) {
	q := &memQueue{err: errors.New("queue closed")}
	err := serveData(t, newTestHandler(q), bmptest.Initiation("edge1", "router"))
	if err == nil {
		t.Fatal("expected the queue error")
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "note"},
		{bmp.ErrUnknownType, "unknown_type"},
		{&DiscardError{Err: ErrMessageTooLarge}, "too_large"},
		{&bmp.FramingError{Err: bmp.ErrUnsupportedVersion}, "bad_version"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
