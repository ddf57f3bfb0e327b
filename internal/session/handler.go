// Package session turns one BMP speaker connection into an ordered stream
// of records.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/config"
	"github.com/route-beacon/bmp-proxy/internal/metrics"
	"github.com/route-beacon/bmp-proxy/internal/record"
)

// RecordQueue accepts records in stream order. Put blocks while the queue
// is full.
type RecordQueue interface {
	Put(ctx context.Context, r *record.Record) error
}

type Handler struct {
	queue       RecordQueue
	readBuffer  int
	maxMessage  int
	idleTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewHandler(queue RecordQueue, cfg config.ListenerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		queue:       queue,
		readBuffer:  cfg.ReadBufferBytes,
		maxMessage:  cfg.MaxMessageBytes,
		idleTimeout: cfg.IdleTimeout(),
		logger:      logger,
		now:         time.Now,
	}
}

// Serve reads conn until EOF, an idle timeout, a read error or context
// cancellation. Framing failures discard buffered bytes and keep the
// connection open. A clean EOF or cancellation returns nil.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) error {
	remote := conn.RemoteAddr().String()
	log := h.logger.With(zap.String("conn", remote))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	stream := NewStream(h.maxMessage)
	buf := make([]byte, h.readBuffer)
	log.Debug("session started")

	for {
		if h.idleTimeout > 0 {
			if err := conn.SetReadDeadline(h.now().Add(h.idleTimeout)); err != nil {
				return fmt.Errorf("session: set deadline for %s: %w", remote, err)
			}
		}

		n, readErr := conn.Read(buf)
		if n > 0 {
			metrics.BytesReceivedTotal.Add(float64(n))
			received := h.now()

			frames, err := stream.Feed(buf[:n])
			for _, f := range frames {
				if err := h.process(ctx, log, remote, f, received); err != nil {
					return err
				}
			}
			if err != nil {
				h.discarded(log, err)
			}
		}

		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(readErr, io.EOF) {
			if p := stream.Pending(); p > 0 {
				log.Warn("connection closed mid-message",
					zap.Int64("offset", stream.Offset()),
					zap.Int("pending_bytes", p),
				)
			}
			log.Info("session closed", zap.Int64("bytes", stream.Offset()+int64(stream.Pending())))
			return nil
		}
		var ne net.Error
		if errors.As(readErr, &ne) && ne.Timeout() {
			log.Info("session idle, closing", zap.Duration("idle_timeout", h.idleTimeout))
			return fmt.Errorf("session: %s idle for %s: %w", remote, h.idleTimeout, readErr)
		}
		return fmt.Errorf("session: read from %s: %w", remote, readErr)
	}
}

func (h *Handler) process(ctx context.Context, log *zap.Logger, remote string, f Frame, at time.Time) error {
	sink := &frameSink{logger: log, base: f.Offset}
	m, err := bmp.DecodeMessage(f.Data, sink)
	if err != nil && !sink.covers(err) {
		stage := stageOf(err)
		metrics.DecodeErrorsTotal.WithLabelValues(stage, Reason(err)).Inc()
		log.Warn("decode failed",
			zap.Int64("offset", f.Offset),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}

	r := record.Build(record.Meta{Conn: remote, Offset: f.Offset, ReceivedAt: at}, f.Data, m, err, sink.diags)
	metrics.MessagesTotal.WithLabelValues(r.Type).Inc()

	if err := h.queue.Put(ctx, r); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("session: enqueue record at offset %d: %w", f.Offset, err)
	}
	return nil
}

func (h *Handler) discarded(log *zap.Logger, err error) {
	metrics.FramingErrorsTotal.WithLabelValues(Reason(err)).Inc()
	var de *DiscardError
	if errors.As(err, &de) {
		log.Warn("framing failed, discarding buffered bytes",
			zap.Int64("offset", de.Offset),
			zap.Int("discarded", de.Discarded),
			zap.String("stage", bmp.StageHeader),
			zap.Error(de.Err),
		)
		return
	}
	log.Warn("framing failed", zap.Error(err))
}

func stageOf(err error) string {
	var de *bmp.DecodeError
	switch {
	case errors.Is(err, bmp.ErrBGP):
		return bmp.StageBGP
	case errors.As(err, &de) && de.Field == "per_peer_header":
		return bmp.StagePeer
	default:
		return bmp.StageHeader
	}
}
