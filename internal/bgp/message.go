package bgp

import (
	"encoding/binary"
	"fmt"
)

// Header is the validated BGP common header. The marker is checked and
// not retained.
type Header struct {
	Length uint16
	Type   uint8
}

// Message is a decoded BGP message. Exactly one of Open, Update,
// Notification is set for those types; a Keepalive sets none.
type Message struct {
	Header       Header
	Open         *Open
	Update       *Update
	Notification *Notification
}

// Open holds the fixed OPEN fields. OptParams is the raw optional
// parameters block.
type Open struct {
	Version   uint8
	AS        uint16
	HoldTime  uint16
	BGPID     uint32
	OptParams []byte
}

// Notification is kept opaque; Code and Subcode are convenience reads.
type Notification struct {
	Data []byte
}

func (n *Notification) Code() uint8 {
	if len(n.Data) < 1 {
		return 0
	}
	return n.Data[0]
}

func (n *Notification) Subcode() uint8 {
	if len(n.Data) < 2 {
		return 0
	}
	return n.Data[1]
}

// DecodeMessage decodes one BGP message from the start of data. Bytes
// past the declared length are ignored.
//
// For UPDATE messages with section-level faults the returned message is
// non-nil and the error is a *PartialError.
func DecodeMessage(data []byte) (*Message, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: hdr}
	payload := data[HeaderSize:hdr.Length]

	switch hdr.Type {
	case MsgTypeOpen:
		open, err := decodeOpen(payload)
		if err != nil {
			return nil, err
		}
		msg.Open = open
	case MsgTypeUpdate:
		update, err := DecodeUpdate(payload)
		if update == nil {
			return nil, err
		}
		msg.Update = update
		return msg, err
	case MsgTypeNotification:
		msg.Notification = &Notification{Data: payload}
	case MsgTypeKeepalive:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: keepalive carries %d payload bytes", ErrBadLength, len(payload))
		}
	}
	return msg, nil
}

// MessageLength reads the declared length of a BGP message after checking
// the marker and bounds. It does not look at the body.
func MessageLength(data []byte) (int, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return 0, err
	}
	return int(hdr.Length), nil
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(data), HeaderSize)
	}
	for i := 0; i < MarkerSize; i++ {
		if data[i] != 0xFF {
			return Header{}, fmt.Errorf("%w: byte %d is 0x%02x", ErrBadMarker, i, data[i])
		}
	}
	// Length is at offset 16-17 (after the 16-byte marker).
	length := binary.BigEndian.Uint16(data[16:18])
	if length < HeaderSize || length > MaxMessageLen {
		return Header{}, fmt.Errorf("%w: declared length %d outside [%d, %d]", ErrBadLength, length, HeaderSize, MaxMessageLen)
	}
	if int(length) > len(data) {
		return Header{}, fmt.Errorf("%w: declared length %d exceeds available %d", ErrBadLength, length, len(data))
	}
	msgType := data[18]
	if msgType < MsgTypeOpen || msgType > MsgTypeKeepalive {
		return Header{}, fmt.Errorf("%w: %d", ErrBadType, msgType)
	}
	return Header{Length: length, Type: msgType}, nil
}

// decodeOpen parses the OPEN body (RFC 4271 §4.2):
//
//	Offset 0: Version (1 byte)
//	Offset 1: My Autonomous System (2 bytes)
//	Offset 3: Hold Time (2 bytes)
//	Offset 5: BGP Identifier (4 bytes)
//	Offset 9: Opt Parm Len (1 byte)
//	Offset 10: Optional Parameters (variable)
func decodeOpen(data []byte) (*Open, error) {
	if len(data) < openFixedSize {
		return nil, fmt.Errorf("%w: open body %d bytes, need %d", ErrBadLength, len(data), openFixedSize)
	}
	optLen := int(data[9])
	if openFixedSize+optLen > len(data) {
		return nil, fmt.Errorf("%w: open optional parameters length %d exceeds remaining %d", ErrBadLength, optLen, len(data)-openFixedSize)
	}
	return &Open{
		Version:   data[0],
		AS:        binary.BigEndian.Uint16(data[1:3]),
		HoldTime:  binary.BigEndian.Uint16(data[3:5]),
		BGPID:     binary.BigEndian.Uint32(data[5:9]),
		OptParams: data[openFixedSize : openFixedSize+optLen],
	}, nil
}

// FourOctetAS scans the optional parameters for the 4-byte ASN
// capability (RFC 6793, Capability Code 65).
//
// Optional Parameters layout (RFC 5492):
//
//	Each parameter: Type(1) + Length(1) + Value(variable)
//	Type 2 = Capabilities: Value contains one or more capabilities
//	Each capability: Code(1) + Length(1) + Value(variable)
func (o *Open) FourOctetAS() (uint32, bool) {
	params := o.OptParams
	offset := 0
	for offset+2 <= len(params) {
		paramType := params[offset]
		paramLen := int(params[offset+1])
		offset += 2

		if offset+paramLen > len(params) {
			return 0, false
		}

		if paramType == 2 { // Capabilities parameter
			capData := params[offset : offset+paramLen]
			capOffset := 0
			for capOffset+2 <= len(capData) {
				capCode := capData[capOffset]
				capLen := int(capData[capOffset+1])
				capOffset += 2

				if capOffset+capLen > len(capData) {
					break
				}

				if capCode == 65 && capLen == 4 {
					return binary.BigEndian.Uint32(capData[capOffset : capOffset+4]), true
				}

				capOffset += capLen
			}
		}

		offset += paramLen
	}
	return 0, false
}

// BGPIDString returns the BGP identifier as a dotted quad.
func (o *Open) BGPIDString() string { return ipv4String(o.BGPID) }
