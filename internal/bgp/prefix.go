package bgp

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// Prefix is an IPv4 route prefix. Only the first Length bits of Addr are
// meaningful; the rest are zero.
type Prefix struct {
	Length uint8
	Addr   uint32
}

// String returns CIDR notation, e.g. "10.0.0.0/24".
func (p Prefix) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], p.Addr)
	return fmt.Sprintf("%s/%d", net.IP(b[:]).String(), p.Length)
}

// MarshalText lets records carry prefixes as CIDR strings.
func (p Prefix) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// prefixBytes is the number of address bytes that follow a length byte.
func prefixBytes(length uint8) int {
	return (int(length) + 7) / 8
}

// DecodePrefixList decodes a withdrawn-routes or NLRI field. On failure it
// returns the prefixes decoded before the bad entry.
func DecodePrefixList(data []byte) ([]Prefix, error) {
	var prefixes []Prefix
	offset := 0
	for offset < len(data) {
		length := data[offset]
		if length > MaxPrefixLen {
			return prefixes, &ListError{
				Offset: offset,
				Err:    ErrBadLength,
				Detail: fmt.Sprintf("prefix length %d exceeds %d", length, MaxPrefixLen),
			}
		}
		n := prefixBytes(length)
		if offset+1+n > len(data) {
			return prefixes, &ListError{
				Offset: offset,
				Err:    ErrTruncated,
				Detail: fmt.Sprintf("prefix /%d needs %d bytes, have %d", length, n, len(data)-offset-1),
			}
		}

		var addr [4]byte
		copy(addr[:], data[offset+1:offset+1+n])
		prefixes = append(prefixes, Prefix{
			Length: length,
			Addr:   binary.BigEndian.Uint32(addr[:]) &^ (math.MaxUint32 >> length),
		})
		offset += 1 + n
	}
	return prefixes, nil
}

// EncodePrefix emits the length byte followed by the high-order address
// bytes the length requires.
func EncodePrefix(p Prefix) []byte {
	n := min(prefixBytes(p.Length), 4)
	out := make([]byte, 1+4)
	out[0] = p.Length
	binary.BigEndian.PutUint32(out[1:], p.Addr)
	return out[:1+n]
}
