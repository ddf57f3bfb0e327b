package bgp

import (
	"encoding/binary"
	"fmt"
)

// Update is a decoded BGP UPDATE body. Attributes is the raw TLV list in
// wire order; Set is its typed view.
type Update struct {
	Withdrawn  []Prefix
	Attributes []PathAttribute
	Set        AttributeSet
	NLRI       []Prefix
}

// IsEndOfRIB reports an empty UPDATE (RFC 4724 §2, IPv4 unicast).
func (u *Update) IsEndOfRIB() bool {
	return len(u.Withdrawn) == 0 && len(u.Attributes) == 0 && len(u.NLRI) == 0
}

// DecodeUpdate decodes an UPDATE payload (the bytes after the 19-byte BGP
// header).
//
// Length fields that overflow the payload are hard errors and return a nil
// Update. Faults inside the withdrawn routes, path attributes or NLRI are
// scoped to their section: the Update is returned with everything that did
// decode and the error is a *PartialError.
func DecodeUpdate(data []byte) (*Update, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: update payload %d bytes, need at least 4", ErrBadLength, len(data))
	}

	// Withdrawn routes length.
	withdrawnLen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) <= withdrawnLen+3 {
		return nil, fmt.Errorf("%w: withdrawn length %d overflows update payload of %d bytes", ErrBadLength, withdrawnLen, len(data))
	}
	withdrawnStart := 2
	withdrawnEnd := withdrawnStart + withdrawnLen

	// Total path attribute length.
	pathAttrLen := int(binary.BigEndian.Uint16(data[withdrawnEnd : withdrawnEnd+2]))
	if len(data) <= withdrawnLen+3+pathAttrLen {
		return nil, fmt.Errorf("%w: path attribute length %d overflows update payload of %d bytes", ErrBadLength, pathAttrLen, len(data))
	}
	attrStart := withdrawnEnd + 2
	attrEnd := attrStart + pathAttrLen

	u := &Update{}
	var faults []*SectionError

	withdrawn, err := DecodePrefixList(data[withdrawnStart:withdrawnEnd])
	u.Withdrawn = withdrawn
	if err != nil {
		faults = append(faults, sectionFault(SectionWithdrawn, withdrawnStart, err))
	}

	attrs, err := DecodeAttributeList(data[attrStart:attrEnd])
	u.Attributes = attrs
	if err != nil {
		faults = append(faults, sectionFault(SectionAttributes, attrStart, err))
	}
	faults = append(faults, interpretAll(attrs, attrStart, data, &u.Set)...)

	nlri, err := DecodePrefixList(data[attrEnd:])
	u.NLRI = nlri
	if err != nil {
		faults = append(faults, sectionFault(SectionNLRI, attrEnd, err))
	}

	if len(faults) > 0 {
		return u, &PartialError{Sections: faults}
	}
	return u, nil
}

// interpretAll fills set from attrs. Each bad attribute becomes its own
// section fault; the others still land in set.
func interpretAll(attrs []PathAttribute, base int, payload []byte, set *AttributeSet) []*SectionError {
	var faults []*SectionError
	for _, a := range attrs {
		v, err := Interpret(a)
		if err != nil {
			faults = append(faults, &SectionError{
				Section: SectionAttributes,
				Offset:  valueOffset(payload, a, base),
				Err:     err,
			})
			continue
		}
		set.Set(v)
	}
	return faults
}

// sectionFault rebases a list error onto the update payload.
func sectionFault(section string, base int, err error) *SectionError {
	offset := base
	if le, ok := err.(*ListError); ok {
		offset += le.Offset
	}
	return &SectionError{Section: section, Offset: offset, Err: err}
}

// valueOffset locates an attribute value inside the payload it aliases.
func valueOffset(payload []byte, a PathAttribute, fallback int) int {
	if len(a.Value) == 0 || cap(payload) == 0 {
		return fallback
	}
	// Value is a subslice of payload; the distance between the two slice
	// tails gives its start offset.
	off := cap(payload) - cap(a.Value)
	if off < 0 || off > len(payload) {
		return fallback
	}
	return off
}
