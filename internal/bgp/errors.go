package bgp

import (
	"errors"
	"fmt"
)

var (
	// ErrTooShort means the buffer is smaller than a fixed-size header.
	ErrTooShort = errors.New("bgp: message too short")
	// ErrBadMarker means the 16-byte marker is not all ones.
	ErrBadMarker = errors.New("bgp: invalid marker")
	// ErrBadLength means a declared length disagrees with the buffer or a
	// structural minimum.
	ErrBadLength = errors.New("bgp: bad length")
	// ErrBadType means the message type is outside 1..4.
	ErrBadType = errors.New("bgp: bad message type")
	// ErrTruncated means a list entry runs past the end of its section.
	ErrTruncated = errors.New("bgp: truncated input")
	// ErrAttribute means a well-known attribute violates its length contract.
	ErrAttribute = errors.New("bgp: malformed attribute")
	// ErrPartial is matched by a *PartialError.
	ErrPartial = errors.New("bgp: update partially decoded")
)

// Update sections, used to localize faults.
const (
	SectionWithdrawn  = "withdrawn"
	SectionAttributes = "path_attributes"
	SectionNLRI       = "nlri"
)

// ListError reports where inside a prefix or attribute list decoding
// stopped. Offset is relative to the start of the list.
type ListError struct {
	Offset int
	Err    error
	Detail string
}

func (e *ListError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
}

func (e *ListError) Unwrap() error { return e.Err }

// AttributeError is a length-contract violation for one attribute.
type AttributeError struct {
	TypeCode uint8
	Length   int
	Want     string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("bgp: attribute type %d has length %d, want %s", e.TypeCode, e.Length, e.Want)
}

func (e *AttributeError) Unwrap() error { return ErrAttribute }

// SectionError is a soft failure scoped to one UPDATE section. Offset is
// relative to the start of the UPDATE payload (after the 19-byte header).
type SectionError struct {
	Section string
	Offset  int
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("bgp: update %s at payload offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *SectionError) Unwrap() error { return e.Err }

// PartialError is returned together with a non-nil *Update when one or more
// sections failed. The fields that did decode are still valid.
type PartialError struct {
	Sections []*SectionError
}

func (e *PartialError) Error() string {
	if len(e.Sections) == 1 {
		return e.Sections[0].Error()
	}
	return fmt.Sprintf("bgp: update partially decoded (%d section errors): %v", len(e.Sections), e.Sections[0])
}

// Unwrap exposes ErrPartial and every section error to errors.Is/As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Sections)+1)
	errs = append(errs, ErrPartial)
	for _, s := range e.Sections {
		errs = append(errs, s)
	}
	return errs
}
