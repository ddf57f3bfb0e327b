package bmp

import "github.com/route-beacon/bmp-proxy/internal/bgp"

// BMP message type codes (RFC 7854).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6

	maxMsgType = MsgTypeRouteMirroring
)

// BMP peer types.
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
	PeerTypeLocRIB uint8 = 3 // RFC 9069
)

// Peer flags (RFC 7854 §4.2).
const (
	PeerFlagIPv6       uint8 = 0x80
	PeerFlagPostPolicy uint8 = 0x40
	PeerFlagAS2        uint8 = 0x20
)

// BMP header sizes.
const (
	CommonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	PerPeerHeaderSize = 42 // peer_type(1) + flags(1) + distinguisher(8) + addr(16) + AS(4) + BGPID(4) + ts_sec(4) + ts_usec(4)

	// PayloadOffset is where the body of a message with a peer header starts.
	PayloadOffset = CommonHeaderSize + PerPeerHeaderSize
)

// Information TLV types carried by Initiation and Peer Up (RFC 7854 §4.4).
const (
	InfoTypeString   uint16 = 0
	InfoTypeSysDescr uint16 = 1
	InfoTypeSysName  uint16 = 2
)

// Termination TLV types (RFC 7854 §4.5).
const (
	TermTypeString uint16 = 0
	TermTypeReason uint16 = 1
)

// Peer Down reason codes (RFC 7854 §4.9).
const (
	PeerDownLocalNotification    uint8 = 1
	PeerDownLocalNoNotification  uint8 = 2
	PeerDownRemoteNotification   uint8 = 3
	PeerDownRemoteNoNotification uint8 = 4
	PeerDownDeconfigured         uint8 = 5
)

// BMPVersion is the only BMP protocol version accepted.
const BMPVersion uint8 = 3

// MsgTypeName returns a human-readable BMP message type.
func MsgTypeName(t uint8) string {
	switch t {
	case MsgTypeRouteMonitoring:
		return "route_monitoring"
	case MsgTypeStatisticsReport:
		return "statistics_report"
	case MsgTypePeerDown:
		return "peer_down"
	case MsgTypePeerUp:
		return "peer_up"
	case MsgTypeInitiation:
		return "initiation"
	case MsgTypeTermination:
		return "termination"
	case MsgTypeRouteMirroring:
		return "route_mirroring"
	default:
		return "unknown"
	}
}

// TLV is a generic type-length-value element with a 2-byte type and length.
type TLV struct {
	Type  uint16
	Value []byte
}

// Message is a decoded BMP message.
//
// Payload is the span after the common header (Initiation, Termination) or
// after the per-peer header (all other types). BGP is set for Route
// Monitoring only; the remaining typed fields are set for their own
// message type when the body decodes.
type Message struct {
	Version uint8
	Length  uint32
	Type    uint8
	Peer    *PeerHeader
	Payload []byte

	BGP      *bgp.Message
	Info     []TLV
	PeerUp   *PeerUp
	PeerDown *PeerDown
	Stats    *StatsReport
}

// PeerUp is the body of a Peer Up notification (RFC 7854 §4.10).
type PeerUp struct {
	LocalAddress uint32
	LocalPort    uint16
	RemotePort   uint16
	SentOpen     *bgp.Message
	ReceivedOpen *bgp.Message
}

// PeerDown is the body of a Peer Down notification (RFC 7854 §4.9).
type PeerDown struct {
	Reason       uint8
	Notification *bgp.Message
	Data         []byte
}

// StatsReport is the body of a Statistics Report (RFC 7854 §4.8).
type StatsReport struct {
	Count uint32
	Stats []TLV
}
