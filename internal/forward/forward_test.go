package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/record"
)

func testRecord(offset int64, raw []byte) *record.Record {
	return &record.Record{Conn: "192.0.2.1:40000", Offset: offset, Raw: raw}
}

type memSink struct {
	mu      sync.Mutex
	name    string
	offsets []int64
	err     error
}

func (s *memSink) Name() string { return s.name }
func (s *memSink) Ready() bool  { return true }
func (s *memSink) Close() error { return nil }

func (s *memSink) Write(_ context.Context, r *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, r.Offset)
	return s.err
}

func TestQueue_PutGetOrder(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	for i := int64(0); i < 3; i++ {
		if err := q.Put(ctx, testRecord(i, nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if q.Len() != 3 || q.Cap() != 4 {
		t.Fatalf("unexpected len/cap %d/%d", q.Len(), q.Cap())
	}
	for i := int64(0); i < 3; i++ {
		r, ok := q.Get(ctx)
		if !ok || r.Offset != i {
			t.Fatalf("expected record %d, got %v %v", i, r, ok)
		}
	}
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Put(context.Background(), testRecord(0, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, testRecord(1, nil)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Put to block until the deadline, got %v", err)
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	q.Put(ctx, testRecord(7, nil))
	q.Close()
	q.Close()

	if err := q.Put(ctx, testRecord(8, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if r, ok := q.Get(ctx); !ok || r.Offset != 7 {
		t.Fatalf("expected queued record after close, got %v %v", r, ok)
	}
	if _, ok := q.Get(ctx); ok {
		t.Fatal("expected an empty closed queue")
	}
}

func TestForwarder_AllSinksInOrder(t *testing.T) {
	a := &memSink{name: "a"}
	b := &memSink{name: "b", err: errors.New("down")}
	f := NewForwarder([]Sink{a, b}, zap.NewNop())

	q := NewQueue(8)
	for i := int64(0); i < 5; i++ {
		q.Put(context.Background(), testRecord(i, nil))
	}
	q.Close()
	f.Run(context.Background(), q)

	for _, s := range []*memSink{a, b} {
		if len(s.offsets) != 5 {
			t.Fatalf("sink %s: expected 5 records, got %d", s.name, len(s.offsets))
		}
		for i, off := range s.offsets {
			if off != int64(i) {
				t.Errorf("sink %s: record %d has offset %d", s.name, i, off)
			}
		}
	}
}

func TestForwarder_StopsOnCancel(t *testing.T) {
	f := NewForwarder(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, NewQueue(1))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestCollectorSink_RelaysRawBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf, _ := io.ReadAll(conn)
		received <- buf
	}()

	sink := NewCollectorSink(ln.Addr().String(), time.Second, time.Second, zap.NewNop())
	if sink.Ready() {
		t.Error("sink should not be ready before connecting")
	}
	ctx := context.Background()
	if err := sink.Write(ctx, testRecord(0, []byte{3, 0, 0, 0, 6, 4})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(ctx, testRecord(6, []byte{3, 0, 0, 0, 6, 5})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !sink.Ready() {
		t.Error("sink should be ready once connected")
	}
	sink.Close()

	select {
	case got := <-received:
		want := []byte{3, 0, 0, 0, 6, 4, 3, 0, 0, 0, 6, 5}
		if !bytes.Equal(got, want) {
			t.Errorf("collector received %x, want %x", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collector received nothing")
	}
}

func TestCollectorSink_ReconnectInterval(t *testing.T) {
	dials := 0
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sink := NewCollectorSink("collector:5000", time.Second, time.Second, zap.NewNop())
	sink.now = func() time.Time { return now }
	sink.dial = func(context.Context, string, string) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	ctx := context.Background()
	raw := []byte{3, 0, 0, 0, 6, 4}
	if err := sink.Write(ctx, testRecord(0, raw)); err == nil {
		t.Fatal("expected a dial error")
	}
	if err := sink.Write(ctx, testRecord(6, raw)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected inside the interval, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}

	now = now.Add(time.Second)
	sink.Write(ctx, testRecord(12, raw))
	if dials != 2 {
		t.Fatalf("expected a redial after the interval, got %d dials", dials)
	}
}

type deadlineFailConn struct {
	net.Conn
	writes int
	closed bool
}

func (c *deadlineFailConn) SetWriteDeadline(time.Time) error {
	return errors.New("use of closed network connection")
}

func (c *deadlineFailConn) Write(b []byte) (int, error) {
	c.writes++
	return len(b), nil
}

func (c *deadlineFailConn) Close() error {
	c.closed = true
	return nil
}

func TestCollectorSink_DeadlineFailureDropsConnection(t *testing.T) {
	conn := &deadlineFailConn{}
	dials := 0
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sink := NewCollectorSink("collector:5000", time.Second, time.Second, zap.NewNop())
	sink.now = func() time.Time { return now }
	sink.dial = func(context.Context, string, string) (net.Conn, error) {
		dials++
		return conn, nil
	}

	ctx := context.Background()
	raw := []byte{3, 0, 0, 0, 6, 4}
	if err := sink.Write(ctx, testRecord(0, raw)); err == nil {
		t.Fatal("expected an error when the write deadline cannot be set")
	}
	if conn.writes != 0 {
		t.Errorf("expected no write after the deadline failure, got %d", conn.writes)
	}
	if !conn.closed || sink.Ready() {
		t.Errorf("expected the connection closed and the sink not ready")
	}
	if err := sink.Write(ctx, testRecord(6, raw)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected inside the interval, got %v", err)
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}
}

func TestCollectorSink_SkipsEmptyRaw(t *testing.T) {
	sink := NewCollectorSink("collector:5000", time.Second, time.Second, zap.NewNop())
	sink.dial = func(context.Context, string, string) (net.Conn, error) {
		t.Fatal("unexpected dial")
		return nil, nil
	}
	if err := sink.Write(context.Background(), testRecord(0, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
