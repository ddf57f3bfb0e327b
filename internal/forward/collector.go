package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/record"
)

// ErrNotConnected is returned while the collector connection is down and
// the reconnect interval has not elapsed.
var ErrNotConnected = errors.New("forward: collector not connected")

// CollectorSink relays the raw BMP bytes of every record to a downstream
// BMP collector over one TCP connection.
type CollectorSink struct {
	addr        string
	dialTimeout time.Duration
	retry       time.Duration
	logger      *zap.Logger

	mu          sync.Mutex
	conn        net.Conn
	nextAttempt time.Time
	now         func() time.Time
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewCollectorSink(addr string, dialTimeout, reconnectInterval time.Duration, logger *zap.Logger) *CollectorSink {
	d := &net.Dialer{Timeout: dialTimeout}
	return &CollectorSink{
		addr:        addr,
		dialTimeout: dialTimeout,
		retry:       reconnectInterval,
		logger:      logger,
		now:         time.Now,
		dial:        d.DialContext,
	}
}

func (c *CollectorSink) Name() string { return "collector" }

func (c *CollectorSink) Write(ctx context.Context, r *record.Record) error {
	if len(r.Raw) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	if c.dialTimeout > 0 {
		if err := c.conn.SetWriteDeadline(c.now().Add(c.dialTimeout)); err != nil {
			c.drop(err)
			return fmt.Errorf("forward: set write deadline for collector %s: %w", c.addr, err)
		}
	}
	if _, err := c.conn.Write(r.Raw); err != nil {
		c.drop(err)
		return fmt.Errorf("forward: write to collector %s: %w", c.addr, err)
	}
	return nil
}

// drop closes a failed connection and schedules the next dial. The caller
// holds c.mu.
func (c *CollectorSink) drop(err error) {
	c.logger.Warn("collector connection lost", zap.String("addr", c.addr), zap.Error(err))
	c.conn.Close()
	c.conn = nil
	c.nextAttempt = c.now().Add(c.retry)
}

// connect dials the collector unless connected or still inside the
// reconnect interval. The caller holds c.mu.
func (c *CollectorSink) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if c.now().Before(c.nextAttempt) {
		return ErrNotConnected
	}

	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		c.nextAttempt = c.now().Add(c.retry)
		return fmt.Errorf("forward: dial collector %s: %w", c.addr, err)
	}
	c.logger.Info("connected to collector", zap.String("addr", c.addr))
	c.conn = conn
	return nil
}

func (c *CollectorSink) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect establishes the first connection so readiness reflects the
// collector before any record arrives.
func (c *CollectorSink) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *CollectorSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
