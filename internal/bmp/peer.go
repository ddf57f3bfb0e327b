package bmp

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// PeerHeader is the 42-byte per-peer header (RFC 7854 §4.2).
//
// Only IPv4 peers are represented: Address holds the low-order four bytes
// of the 16-byte peer address field and the upper bytes are discarded.
type PeerHeader struct {
	Type            uint8
	Flags           uint8
	Distinguisher   uint64
	Address         uint32
	AS              uint32
	BGPID           uint32
	TimestampSec    uint32
	TimestampMicros uint32
}

// DecodePeerHeader reads the per-peer header of a BMP message. msg starts at
// the common header, so at least 48 bytes are required.
//
// Per-peer header layout, offsets relative to the message start:
//
//	Offset  6: Peer Type (1 byte)
//	Offset  7: Peer Flags (1 byte)
//	Offset  8: Peer Distinguisher (8 bytes)
//	Offset 16: Peer Address (16 bytes, IPv4 in the last 4)
//	Offset 32: Peer AS (4 bytes)
//	Offset 36: Peer BGP ID (4 bytes)
//	Offset 40: Timestamp seconds (4 bytes)
//	Offset 44: Timestamp microseconds (4 bytes)
func DecodePeerHeader(msg []byte) (PeerHeader, error) {
	if len(msg) < PayloadOffset {
		return PeerHeader{}, &DecodeError{
			Field:  "per_peer_header",
			Offset: CommonHeaderSize,
			Err:    fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(msg), PayloadOffset),
		}
	}
	h := msg[CommonHeaderSize:PayloadOffset]
	return PeerHeader{
		Type:            h[0],
		Flags:           h[1],
		Distinguisher:   binary.BigEndian.Uint64(h[2:10]),
		Address:         binary.BigEndian.Uint32(h[22:26]),
		AS:              binary.BigEndian.Uint32(h[26:30]),
		BGPID:           binary.BigEndian.Uint32(h[30:34]),
		TimestampSec:    binary.BigEndian.Uint32(h[34:38]),
		TimestampMicros: binary.BigEndian.Uint32(h[38:42]),
	}, nil
}

func (p PeerHeader) IsLocRIB() bool     { return p.Type == PeerTypeLocRIB }
func (p PeerHeader) IsIPv6() bool       { return p.Flags&PeerFlagIPv6 != 0 }
func (p PeerHeader) IsPostPolicy() bool { return p.Flags&PeerFlagPostPolicy != 0 }

// AddressString returns the peer address as a dotted quad.
func (p PeerHeader) AddressString() string { return ipv4String(p.Address) }

// BGPIDString returns the peer BGP identifier as a dotted quad.
func (p PeerHeader) BGPIDString() string { return ipv4String(p.BGPID) }

// Timestamp converts the header timestamp to UTC time.
func (p PeerHeader) Timestamp() time.Time {
	return time.Unix(int64(p.TimestampSec), int64(p.TimestampMicros)*1000).UTC()
}

// RouterID identifies the router a message pertains to. For Loc-RIB
// (RFC 9069 §4.1) the peer address is zero and the BGP ID holds the local
// router identifier, so the BGP ID is used as a fallback.
func (p PeerHeader) RouterID() string {
	if p.Address != 0 {
		return p.AddressString()
	}
	if p.BGPID != 0 {
		return p.BGPIDString()
	}
	return ""
}

func ipv4String(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}
