package listener

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// blockingHandler holds each connection open until release is closed.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Serve(ctx context.Context, conn net.Conn) error {
	h.started <- struct{}{}
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil
}

func startListener(t *testing.T, maxConns int, h ConnHandler) (*Listener, context.CancelFunc, chan error) {
	t.Helper()
	l := New("127.0.0.1:0", maxConns, h, zap.NewNop())
	if err := l.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	return l, cancel, done
}

func TestListener_ServesConnections(t *testing.T) {
	h := &blockingHandler{started: make(chan struct{}, 2), release: make(chan struct{})}
	l, cancel, done := startListener(t, 2, h)

	if !l.Ready() {
		t.Error("listener should be ready once bound")
	}
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		select {
		case <-h.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d was not served", i)
		}
	}
	if l.Active() != 2 {
		t.Errorf("expected 2 active connections, got %d", l.Active())
	}

	close(h.release)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Ready() {
		t.Error("listener should not be ready after shutdown")
	}
	if l.Active() != 0 {
		t.Errorf("expected no active connections after shutdown, got %d", l.Active())
	}
}

func TestListener_RejectsOverLimit(t *testing.T) {
	h := &blockingHandler{started: make(chan struct{}, 2), release: make(chan struct{})}
	l, cancel, done := startListener(t, 1, h)
	defer func() {
		close(h.release)
		cancel()
		<-done
	}()

	first, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	<-h.started

	second, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected the extra connection to be closed, got %v", err)
	}
}

func TestListener_ServeBeforeListen(t *testing.T) {
	l := New("127.0.0.1:0", 1, &blockingHandler{}, zap.NewNop())
	if err := l.Serve(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if l.Addr() != nil {
		t.Error("expected no address before Listen")
	}
}
