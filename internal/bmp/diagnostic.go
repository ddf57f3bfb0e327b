package bmp

// Diagnostic stages.
const (
	StageHeader    = "header"
	StagePeer      = "peer_header"
	StageBGP       = "bgp"
	StageAttribute = "attribute"
	StageBody      = "body"
)

// Diagnostic is a non-fatal observation made while decoding one message:
// an unknown type, an unknown attribute code, a partially decoded UPDATE or
// a supplementary body that did not parse. Offset is relative to the start
// of the BMP message. Err is nil for purely informational entries such as
// unknown attributes.
type Diagnostic struct {
	Stage  string
	Field  string
	Offset int
	Err    error
}

// DiagnosticSink receives diagnostics from the decoder. Implementations must
// not retain byte slices reachable from the diagnostic.
type DiagnosticSink interface {
	Report(Diagnostic)
}

// SinkFunc adapts a function to a DiagnosticSink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

type nopSink struct{}

func (nopSink) Report(Diagnostic) {}

// NopSink discards every diagnostic.
var NopSink DiagnosticSink = nopSink{}
