// Package listener accepts BMP speaker connections and hands each one to a
// session handler on its own goroutine.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/metrics"
)

// ConnHandler serves one accepted connection until it ends.
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn) error
}

type Listener struct {
	addr     string
	maxConns int
	handler  ConnHandler
	logger   *zap.Logger

	ln     net.Listener
	slots  chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64
	bound  atomic.Bool
}

func New(addr string, maxConns int, handler ConnHandler, logger *zap.Logger) *Listener {
	return &Listener{
		addr:     addr,
		maxConns: maxConns,
		handler:  handler,
		logger:   logger,
		slots:    make(chan struct{}, maxConns),
	}
}

// Listen binds the configured address.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listener: listen on %s: %w", l.addr, err)
	}
	l.ln = ln
	l.bound.Store(true)
	l.logger.Info("BMP listener bound", zap.String("addr", ln.Addr().String()))
	return nil
}

// Serve accepts connections until ctx is cancelled, then waits for every
// session to finish. Connections beyond max_connections are closed at once.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		return errors.New("listener: Serve called before Listen")
	}
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()
	defer l.wg.Wait()
	defer l.bound.Store(false)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("listener: accept: %w", err)
		}

		select {
		case l.slots <- struct{}{}:
		default:
			l.logger.Warn("connection limit reached, rejecting",
				zap.String("conn", conn.RemoteAddr().String()),
				zap.Int("max_connections", l.maxConns),
			)
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer func() { <-l.slots }()
	defer conn.Close()

	l.active.Add(1)
	metrics.ActiveConnections.Inc()
	defer func() {
		l.active.Add(-1)
		metrics.ActiveConnections.Dec()
	}()

	remote := conn.RemoteAddr().String()
	l.logger.Info("BMP speaker connected", zap.String("conn", remote))
	if err := l.handler.Serve(ctx, conn); err != nil {
		l.logger.Warn("session ended with error", zap.String("conn", remote), zap.Error(err))
		return
	}
	l.logger.Info("BMP speaker disconnected", zap.String("conn", remote))
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Active returns the number of connections being served.
func (l *Listener) Active() int { return int(l.active.Load()) }

func (l *Listener) Name() string { return "listener" }

// Ready reports whether the listener is bound and accepting.
func (l *Listener) Ready() bool { return l.bound.Load() }
