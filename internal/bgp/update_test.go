package bgp

import (
	"encoding/binary"
	"errors"
	"testing"
)

// buildUpdatePayload constructs an UPDATE body (no BGP header).
func buildUpdatePayload(withdrawn []byte, pathAttrs []byte, nlri []byte) []byte {
	payload := make([]byte, 2+len(withdrawn)+2+len(pathAttrs)+len(nlri))
	offset := 0
	binary.BigEndian.PutUint16(payload[offset:offset+2], uint16(len(withdrawn)))
	offset += 2
	copy(payload[offset:], withdrawn)
	offset += len(withdrawn)

	binary.BigEndian.PutUint16(payload[offset:offset+2], uint16(len(pathAttrs)))
	offset += 2
	copy(payload[offset:], pathAttrs)
	offset += len(pathAttrs)

	copy(payload[offset:], nlri)
	return payload
}

// buildBGPUpdate constructs a BGP UPDATE message with the given components.
func buildBGPUpdate(withdrawn []byte, pathAttrs []byte, nlri []byte) []byte {
	return buildBGPMessage(MsgTypeUpdate, buildUpdatePayload(withdrawn, pathAttrs, nlri))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDecodeUpdate_IPv4Announcement(t *testing.T) {
	nlri := []byte{24, 10, 0, 0}
	pathAttrs := concat(
		buildPathAttr(0x40, AttrTypeOrigin, []byte{0}),
		buildPathAttr(0x40, AttrTypeASPath, buildASPathSegment(ASPathSegmentSequence, 64496, 64497)),
		buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1}),
		buildPathAttr(0x80, AttrTypeMED, []byte{0, 0, 0, 50}),
		buildPathAttr(0x40, AttrTypeLocalPref, []byte{0, 0, 0, 100}),
	)

	msg, err := DecodeMessage(buildBGPUpdate(nil, pathAttrs, nlri))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := msg.Update
	if u == nil {
		t.Fatal("expected UPDATE")
	}
	if len(u.NLRI) != 1 || u.NLRI[0].String() != "10.0.0.0/24" {
		t.Errorf("unexpected NLRI: %v", u.NLRI)
	}
	if len(u.Withdrawn) != 0 {
		t.Errorf("expected no withdrawals, got %v", u.Withdrawn)
	}
	if len(u.Attributes) != 5 {
		t.Errorf("expected 5 raw attributes, got %d", len(u.Attributes))
	}
	s := u.Set
	if s.Origin == nil || s.Origin.String() != "IGP" {
		t.Errorf("expected origin IGP, got %v", s.Origin)
	}
	if s.ASPath.String() != "64496 64497" {
		t.Errorf("expected AS path '64496 64497', got '%s'", s.ASPath.String())
	}
	if s.NextHop == nil || s.NextHop.String() != "192.168.1.1" {
		t.Errorf("expected next hop 192.168.1.1, got %v", s.NextHop)
	}
	if s.MED == nil || *s.MED != 50 {
		t.Errorf("expected MED 50, got %v", s.MED)
	}
	if s.LocalPref == nil || *s.LocalPref != 100 {
		t.Errorf("expected local pref 100, got %v", s.LocalPref)
	}
}

func TestDecodeUpdate_IPv4Withdrawal(t *testing.T) {
	u, err := DecodeUpdate(buildUpdatePayload([]byte{16, 172, 16}, nil, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Withdrawn) != 1 || u.Withdrawn[0].String() != "172.16.0.0/16" {
		t.Errorf("unexpected withdrawn: %v", u.Withdrawn)
	}
	if u.IsEndOfRIB() {
		t.Error("withdrawal is not End-of-RIB")
	}
}

func TestDecodeUpdate_EndOfRIB(t *testing.T) {
	u, err := DecodeUpdate(buildUpdatePayload(nil, nil, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.IsEndOfRIB() {
		t.Error("expected End-of-RIB")
	}
}

func TestDecodeUpdate_AggregatorAndAtomic(t *testing.T) {
	pathAttrs := concat(
		buildPathAttr(0x40, AttrTypeAtomicAggregate, nil),
		buildPathAttr(0xC0, AttrTypeAggregator, []byte{0xFD, 0xE8, 10, 0, 0, 1}),
	)
	u, err := DecodeUpdate(buildUpdatePayload(nil, pathAttrs, []byte{8, 10}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.Set.AtomicAggregate {
		t.Error("expected atomic aggregate")
	}
	if u.Set.Aggregator == nil || u.Set.Aggregator.AS != 65000 || u.Set.Aggregator.Addr != 0x0A000001 {
		t.Errorf("unexpected aggregator: %+v", u.Set.Aggregator)
	}
}

func TestDecodeUpdate_UnknownAttributeKept(t *testing.T) {
	pathAttrs := buildPathAttr(0xC0, 200, []byte{1, 2, 3, 4})
	u, err := DecodeUpdate(buildUpdatePayload(nil, pathAttrs, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := u.Set.Unknown[200]; len(got) != 4 {
		t.Errorf("expected unknown attribute 200 to be kept, got %v", got)
	}
}

func TestDecodeUpdate_WithdrawnLengthOverflow(t *testing.T) {
	payload := buildUpdatePayload([]byte{8, 10}, nil, nil)
	binary.BigEndian.PutUint16(payload[0:2], 100)
	u, err := DecodeUpdate(payload)
	if !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
	if u != nil {
		t.Error("structural failure must not return an update")
	}
}

func TestDecodeUpdate_PathAttrLengthOverflow(t *testing.T) {
	payload := buildUpdatePayload(nil, buildPathAttr(0x40, AttrTypeOrigin, []byte{0}), nil)
	binary.BigEndian.PutUint16(payload[2:4], 50)
	if _, err := DecodeUpdate(payload); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestDecodeUpdate_TooShort(t *testing.T) {
	for _, payload := range [][]byte{nil, {0}, {0, 0}, {0, 0, 0}} {
		if _, err := DecodeUpdate(payload); !errors.Is(err, ErrBadLength) {
			t.Errorf("%v: expected ErrBadLength, got %v", payload, err)
		}
	}
}

func TestDecodeUpdate_BadAttributeIsSoft(t *testing.T) {
	// ORIGIN with two bytes is malformed; the rest must still decode.
	badOrigin := buildPathAttr(0x40, AttrTypeOrigin, []byte{0, 0})
	nextHop := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 0, 2, 1})
	payload := buildUpdatePayload([]byte{8, 172}, concat(badOrigin, nextHop), []byte{24, 10, 0, 0})

	u, err := DecodeUpdate(payload)
	if u == nil {
		t.Fatalf("expected partial update, got nil with %v", err)
	}
	if !errors.Is(err, ErrPartial) || !errors.Is(err, ErrAttribute) {
		t.Fatalf("expected partial attribute error, got %v", err)
	}

	var se *SectionError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SectionError in %v", err)
	}
	if se.Section != SectionAttributes {
		t.Errorf("expected section %s, got %s", SectionAttributes, se.Section)
	}
	// withdrawn_len(2) + withdrawn(2) + path_attr_len(2) + attr header(3)
	if se.Offset != 9 {
		t.Errorf("expected fault at payload offset 9, got %d", se.Offset)
	}

	if u.Set.Origin != nil {
		t.Error("malformed origin must not be stored")
	}
	if u.Set.NextHop == nil || u.Set.NextHop.String() != "192.0.2.1" {
		t.Errorf("expected next hop to survive, got %v", u.Set.NextHop)
	}
	if len(u.Withdrawn) != 1 || len(u.NLRI) != 1 {
		t.Errorf("expected withdrawn and NLRI to survive, got %v / %v", u.Withdrawn, u.NLRI)
	}
}

func TestDecodeUpdate_SectionsAreIndependent(t *testing.T) {
	// /33 is invalid in withdrawn, the attributes are fine and the second
	// NLRI prefix is truncated.
	withdrawn := []byte{33, 1, 2, 3, 4, 5}
	pathAttrs := buildPathAttr(0x40, AttrTypeOrigin, []byte{1})
	nlri := []byte{8, 10, 24, 192, 168}

	u, err := DecodeUpdate(buildUpdatePayload(withdrawn, pathAttrs, nlri))
	var pe *PartialError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PartialError, got %v", err)
	}
	if len(pe.Sections) != 2 {
		t.Fatalf("expected 2 section faults, got %d: %v", len(pe.Sections), pe)
	}
	if pe.Sections[0].Section != SectionWithdrawn || !errors.Is(pe.Sections[0], ErrBadLength) {
		t.Errorf("unexpected first fault: %v", pe.Sections[0])
	}
	if pe.Sections[0].Offset != 2 {
		t.Errorf("expected withdrawn fault at offset 2, got %d", pe.Sections[0].Offset)
	}
	if pe.Sections[1].Section != SectionNLRI || !errors.Is(pe.Sections[1], ErrTruncated) {
		t.Errorf("unexpected second fault: %v", pe.Sections[1])
	}
	// 2 + 6 + 2 + 4 = 14 is where NLRI starts; the bad prefix is 2 bytes in.
	if pe.Sections[1].Offset != 16 {
		t.Errorf("expected NLRI fault at offset 16, got %d", pe.Sections[1].Offset)
	}

	if u.Set.Origin == nil || *u.Set.Origin != 1 {
		t.Errorf("expected origin EGP to survive, got %v", u.Set.Origin)
	}
	if len(u.NLRI) != 1 || u.NLRI[0].String() != "10.0.0.0/8" {
		t.Errorf("expected the first NLRI prefix, got %v", u.NLRI)
	}
}

func TestDecodeMessage_UpdatePartialReturnsMessage(t *testing.T) {
	buf := buildBGPUpdate(nil, buildPathAttr(0x40, AttrTypeNextHop, []byte{1, 2}), nil)
	msg, err := DecodeMessage(buf)
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("expected ErrPartial, got %v", err)
	}
	if msg == nil || msg.Update == nil {
		t.Fatal("expected message with partial update")
	}
}

func TestDecodeUpdate_DuplicateAttributeLastWins(t *testing.T) {
	pathAttrs := concat(
		buildPathAttr(0x40, AttrTypeLocalPref, []byte{0, 0, 0, 100}),
		buildPathAttr(0x40, AttrTypeLocalPref, []byte{0, 0, 0, 200}),
	)
	u, err := DecodeUpdate(buildUpdatePayload(nil, pathAttrs, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Attributes) != 2 {
		t.Errorf("raw list must keep both, got %d", len(u.Attributes))
	}
	if *u.Set.LocalPref != 200 {
		t.Errorf("expected local pref 200, got %d", *u.Set.LocalPref)
	}
}
