package bgp

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// AttrFlags is the flags octet of a path attribute.
type AttrFlags uint8

func (f AttrFlags) Optional() bool       { return f&AttrFlagOptional != 0 }
func (f AttrFlags) Transitive() bool     { return f&AttrFlagTransitive != 0 }
func (f AttrFlags) Partial() bool        { return f&AttrFlagPartial != 0 }
func (f AttrFlags) ExtendedLength() bool { return f&AttrFlagExtendedLength != 0 }

// PathAttribute is one raw TLV from the path attributes section. Value
// aliases the decoded buffer.
type PathAttribute struct {
	Flags    AttrFlags
	TypeCode uint8
	Value    []byte
}

// DecodeAttributeList walks the path attributes section. On failure it
// returns the attributes decoded before the bad entry.
func DecodeAttributeList(data []byte) ([]PathAttribute, error) {
	var attrs []PathAttribute
	offset := 0
	for offset < len(data) {
		start := offset
		if offset+2 > len(data) {
			return attrs, &ListError{Offset: start, Err: ErrTruncated, Detail: "attribute header truncated"}
		}
		flags := AttrFlags(data[offset])
		typeCode := data[offset+1]
		offset += 2

		// Attribute length: 1 byte or 2 bytes depending on Extended Length flag.
		var attrLen int
		if flags.ExtendedLength() {
			if offset+2 > len(data) {
				return attrs, &ListError{Offset: start, Err: ErrTruncated, Detail: fmt.Sprintf("extended length of type %d truncated", typeCode)}
			}
			attrLen = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return attrs, &ListError{Offset: start, Err: ErrTruncated, Detail: fmt.Sprintf("length of type %d truncated", typeCode)}
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return attrs, &ListError{
				Offset: start,
				Err:    ErrTruncated,
				Detail: fmt.Sprintf("type %d declares %d bytes, have %d", typeCode, attrLen, len(data)-offset),
			}
		}

		attrs = append(attrs, PathAttribute{
			Flags:    flags,
			TypeCode: typeCode,
			Value:    data[offset : offset+attrLen],
		})
		offset += attrLen
	}
	return attrs, nil
}

// EncodeAttribute serializes a path attribute, switching to a 2-byte length
// when the value does not fit in one byte.
func EncodeAttribute(a PathAttribute) []byte {
	flags := a.Flags
	if len(a.Value) > 255 {
		flags |= AttrFlagExtendedLength
	}
	if flags.ExtendedLength() {
		out := make([]byte, 4+len(a.Value))
		out[0] = byte(flags)
		out[1] = a.TypeCode
		binary.BigEndian.PutUint16(out[2:4], uint16(len(a.Value)))
		copy(out[4:], a.Value)
		return out
	}
	out := make([]byte, 3+len(a.Value))
	out[0] = byte(flags)
	out[1] = a.TypeCode
	out[2] = byte(len(a.Value))
	copy(out[3:], a.Value)
	return out
}

// AttributeValue is the typed interpretation of a path attribute.
type AttributeValue interface {
	TypeCode() uint8
}

type Origin uint8

type ASPathSegment struct {
	Type uint8
	ASNs []uint16
}

type ASPath []ASPathSegment

type NextHop uint32

type MultiExitDisc uint32

type LocalPref uint32

type AtomicAggregate struct{}

type Aggregator struct {
	AS   uint16
	Addr uint32
}

// UnknownAttribute keeps a type code this decoder does not interpret.
type UnknownAttribute struct {
	Code  uint8
	Value []byte
}

func (Origin) TypeCode() uint8             { return AttrTypeOrigin }
func (ASPath) TypeCode() uint8             { return AttrTypeASPath }
func (NextHop) TypeCode() uint8            { return AttrTypeNextHop }
func (MultiExitDisc) TypeCode() uint8      { return AttrTypeMED }
func (LocalPref) TypeCode() uint8          { return AttrTypeLocalPref }
func (AtomicAggregate) TypeCode() uint8    { return AttrTypeAtomicAggregate }
func (Aggregator) TypeCode() uint8         { return AttrTypeAggregator }
func (u UnknownAttribute) TypeCode() uint8 { return u.Code }

func (o Origin) String() string {
	if v, ok := OriginValues[uint8(o)]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
}

// String renders sequences as space separated ASNs and sets in braces.
func (p ASPath) String() string {
	var segments []string
	for _, seg := range p {
		asns := make([]string, len(seg.ASNs))
		for i, asn := range seg.ASNs {
			asns[i] = fmt.Sprintf("%d", asn)
		}
		switch seg.Type {
		case ASPathSegmentSet, ASPathSegmentConfedSet:
			segments = append(segments, "{"+strings.Join(asns, ",")+"}")
		default:
			segments = append(segments, strings.Join(asns, " "))
		}
	}
	return strings.Join(segments, " ")
}

func (n NextHop) String() string { return ipv4String(uint32(n)) }

func ipv4String(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

// Interpret decodes the value of a single attribute. Unknown type codes are
// returned as UnknownAttribute with a nil error.
func Interpret(attr PathAttribute) (AttributeValue, error) {
	data := attr.Value
	switch attr.TypeCode {
	case AttrTypeOrigin:
		if len(data) != 1 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "1"}
		}
		return Origin(data[0]), nil
	case AttrTypeASPath:
		return interpretASPath(data)
	case AttrTypeNextHop:
		if len(data) != 4 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "4"}
		}
		return NextHop(binary.BigEndian.Uint32(data)), nil
	case AttrTypeMED:
		if len(data) != 4 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "4"}
		}
		return MultiExitDisc(binary.BigEndian.Uint32(data)), nil
	case AttrTypeLocalPref:
		if len(data) != 4 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "4"}
		}
		return LocalPref(binary.BigEndian.Uint32(data)), nil
	case AttrTypeAtomicAggregate:
		// RFC 4271 §5.1.6: zero-length.
		if len(data) != 0 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "0"}
		}
		return AtomicAggregate{}, nil
	case AttrTypeAggregator:
		if len(data) != 6 {
			return nil, &AttributeError{TypeCode: attr.TypeCode, Length: len(data), Want: "6"}
		}
		return Aggregator{
			AS:   binary.BigEndian.Uint16(data[0:2]),
			Addr: binary.BigEndian.Uint32(data[2:6]),
		}, nil
	default:
		return UnknownAttribute{Code: attr.TypeCode, Value: data}, nil
	}
}

// interpretASPath walks 2-byte-ASN segments. Each segment is
// type(1) + count(1) + 2*count bytes, and the segments must fill the value.
func interpretASPath(data []byte) (ASPath, error) {
	path := make(ASPath, 0, 1)
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, &AttributeError{TypeCode: AttrTypeASPath, Length: len(data), Want: "segment header of 2 bytes"}
		}
		segType := data[offset]
		if segType < ASPathSegmentSet || segType > ASPathSegmentConfedSet {
			return nil, &AttributeError{
				TypeCode: AttrTypeASPath,
				Length:   len(data),
				Want:     fmt.Sprintf("segment type 1..4 at offset %d, got %d", offset, segType),
			}
		}
		count := int(data[offset+1])
		offset += 2
		if offset+2*count > len(data) {
			return nil, &AttributeError{
				TypeCode: AttrTypeASPath,
				Length:   len(data),
				Want:     fmt.Sprintf("%d for a %d-AS segment at offset %d", offset+2*count, count, offset-2),
			}
		}
		asns := make([]uint16, count)
		for i := range asns {
			asns[i] = binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
		}
		path = append(path, ASPathSegment{Type: segType, ASNs: asns})
	}
	return path, nil
}

// AttributeSet holds at most one typed value per attribute type code.
type AttributeSet struct {
	Origin          *Origin
	ASPath          ASPath
	NextHop         *NextHop
	MED             *MultiExitDisc
	LocalPref       *LocalPref
	AtomicAggregate bool
	Aggregator      *Aggregator
	Unknown         map[uint8][]byte
}

// Set stores v, replacing any earlier value for the same type code.
func (s *AttributeSet) Set(v AttributeValue) {
	switch t := v.(type) {
	case Origin:
		s.Origin = &t
	case ASPath:
		s.ASPath = t
	case NextHop:
		s.NextHop = &t
	case MultiExitDisc:
		s.MED = &t
	case LocalPref:
		s.LocalPref = &t
	case AtomicAggregate:
		s.AtomicAggregate = true
	case Aggregator:
		s.Aggregator = &t
	case UnknownAttribute:
		if s.Unknown == nil {
			s.Unknown = make(map[uint8][]byte)
		}
		s.Unknown[t.Code] = t.Value
	}
}
