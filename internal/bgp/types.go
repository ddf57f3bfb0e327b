package bgp

// BGP message types (RFC 4271 §4.1).
const (
	MsgTypeOpen         uint8 = 1
	MsgTypeUpdate       uint8 = 2
	MsgTypeNotification uint8 = 3
	MsgTypeKeepalive    uint8 = 4
)

// BGP path attribute type codes.
const (
	AttrTypeOrigin          uint8 = 1
	AttrTypeASPath          uint8 = 2
	AttrTypeNextHop         uint8 = 3
	AttrTypeMED             uint8 = 4
	AttrTypeLocalPref       uint8 = 5
	AttrTypeAtomicAggregate uint8 = 6
	AttrTypeAggregator      uint8 = 7
)

// KnownAttribute reports whether code has a typed interpretation.
func KnownAttribute(code uint8) bool {
	return code >= AttrTypeOrigin && code <= AttrTypeAggregator
}

// Path attribute flag bits.
const (
	AttrFlagOptional       AttrFlags = 0x80
	AttrFlagTransitive     AttrFlags = 0x40
	AttrFlagPartial        AttrFlags = 0x20
	AttrFlagExtendedLength AttrFlags = 0x10
)

// AS_PATH segment types. 3 and 4 are the confederation types of RFC 5065.
const (
	ASPathSegmentSet       uint8 = 1
	ASPathSegmentSequence  uint8 = 2
	ASPathSegmentConfedSeq uint8 = 3
	ASPathSegmentConfedSet uint8 = 4
)

// Origin values.
var OriginValues = map[uint8]string{
	0: "IGP",
	1: "EGP",
	2: "INCOMPLETE",
}

// BGP header: marker(16) + length(2) + type(1) = 19
const (
	HeaderSize    = 19
	MarkerSize    = 16
	MaxMessageLen = 4096
)

// OPEN fixed fields: version(1) + AS(2) + hold_time(2) + bgp_id(4) + opt_param_len(1)
const openFixedSize = 10

// MaxPrefixLen is the longest IPv4 prefix the prefix codec accepts.
const MaxPrefixLen = 32

// MsgTypeName returns a human-readable BGP message type.
func MsgTypeName(t uint8) string {
	switch t {
	case MsgTypeOpen:
		return "OPEN"
	case MsgTypeUpdate:
		return "UPDATE"
	case MsgTypeNotification:
		return "NOTIFICATION"
	case MsgTypeKeepalive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}
