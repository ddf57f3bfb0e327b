package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-proxy/internal/bgp"
	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/metrics"
)

// frameSink logs the diagnostics of one framed message at their stream
// offset and keeps them for the message's record.
type frameSink struct {
	logger *zap.Logger
	base   int64
	diags  []bmp.Diagnostic
}

func (s *frameSink) Report(d bmp.Diagnostic) {
	s.diags = append(s.diags, d)
	metrics.DecodeErrorsTotal.WithLabelValues(d.Stage, Reason(d.Err)).Inc()

	fields := []zap.Field{
		zap.Int64("offset", s.base+int64(d.Offset)),
		zap.String("stage", d.Stage),
		zap.String("field", d.Field),
	}
	if d.Err == nil {
		s.logger.Debug("decode note", fields...)
		return
	}
	s.logger.Warn("decode diagnostic", append(fields, zap.Error(d.Err))...)
}

// covers reports whether err was already delivered as a diagnostic.
func (s *frameSink) covers(err error) bool {
	for _, d := range s.diags {
		if d.Err != nil && errors.Is(err, d.Err) {
			return true
		}
	}
	return false
}

var reasons = []struct {
	err    error
	reason string
}{
	{ErrMessageTooLarge, "too_large"},
	{bmp.ErrUnsupportedVersion, "bad_version"},
	{bmp.ErrUnknownType, "unknown_type"},
	{bmp.ErrBadLength, "bad_length"},
	{bmp.ErrIncompleteHeader, "incomplete"},
	{bmp.ErrIncompleteMessage, "incomplete"},
	{bgp.ErrPartial, "partial_update"},
	{bgp.ErrBadMarker, "bad_marker"},
	{bgp.ErrBadLength, "bad_length"},
	{bgp.ErrBadType, "bad_type"},
	{bgp.ErrAttribute, "bad_attribute"},
	{bgp.ErrTruncated, "truncated"},
	{bgp.ErrTooShort, "too_short"},
	{bmp.ErrTooShort, "too_short"},
}

// Reason maps a decode error to a low-cardinality metric label. A nil
// error is an informational diagnostic.
func Reason(err error) string {
	if err == nil {
		return "note"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
