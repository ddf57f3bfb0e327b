// Package bmptest builds BMP and BGP wire messages for tests of the
// packages that consume decoded streams.
package bmptest

import "encoding/binary"

// Peer holds the per-peer header fields the builders set.
type Peer struct {
	Type  uint8
	Flags uint8
	Addr  [4]byte
	AS    uint32
	BGPID [4]byte
	Sec   uint32
	Usec  uint32
}

// DefaultPeer is a global-instance peer 192.0.2.1, AS 65001.
func DefaultPeer() Peer {
	return Peer{
		Addr:  [4]byte{192, 0, 2, 1},
		AS:    65001,
		BGPID: [4]byte{10, 255, 0, 1},
		Sec:   1700000000,
		Usec:  250000,
	}
}

// PeerHeader encodes the 42-byte per-peer header.
func PeerHeader(p Peer) []byte {
	h := make([]byte, 42)
	h[0] = p.Type
	h[1] = p.Flags
	copy(h[22:26], p.Addr[:])
	binary.BigEndian.PutUint32(h[26:30], p.AS)
	copy(h[30:34], p.BGPID[:])
	binary.BigEndian.PutUint32(h[34:38], p.Sec)
	binary.BigEndian.PutUint32(h[38:42], p.Usec)
	return h
}

// Message assembles a BMP v3 message from a type, an optional encoded peer
// header and a body.
func Message(msgType uint8, peer, body []byte) []byte {
	total := 6 + len(peer) + len(body)
	msg := make([]byte, total)
	msg[0] = 3
	binary.BigEndian.PutUint32(msg[1:5], uint32(total))
	msg[5] = msgType
	copy(msg[6:], peer)
	copy(msg[6+len(peer):], body)
	return msg
}

// BGP wraps body in a BGP header with an all-ones marker.
func BGP(msgType uint8, body []byte) []byte {
	msg := make([]byte, 19+len(body))
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(len(msg)))
	msg[18] = msgType
	copy(msg[19:], body)
	return msg
}

// Update builds a BGP UPDATE announcing 10.0.0.0/24 with ORIGIN IGP and
// NEXT_HOP 192.0.2.254, followed by extraAttrs.
func Update(extraAttrs []byte) []byte {
	attrs := []byte{
		0x40, 1, 1, 0,
		0x40, 3, 4, 192, 0, 2, 254,
	}
	attrs = append(attrs, extraAttrs...)
	body := []byte{0, 0}
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	body = append(body, attrs...)
	body = append(body, 24, 10, 0, 0)
	return BGP(2, body)
}

// RouteMonitoring wraps a BGP message from DefaultPeer.
func RouteMonitoring(bgpMsg []byte) []byte {
	return Message(0, PeerHeader(DefaultPeer()), bgpMsg)
}

// TLV encodes a 2-byte type, 2-byte length TLV.
func TLV(t uint16, value []byte) []byte {
	tlv := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(tlv[0:2], t)
	binary.BigEndian.PutUint16(tlv[2:4], uint16(len(value)))
	copy(tlv[4:], value)
	return tlv
}

// Initiation builds an Initiation message with sysName and sysDescr TLVs.
func Initiation(sysName, sysDescr string) []byte {
	body := append(TLV(2, []byte(sysName)), TLV(1, []byte(sysDescr))...)
	return Message(4, nil, body)
}

// Stream concatenates messages.
func Stream(msgs ...[]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out
}
