package bmp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/route-beacon/bmp-proxy/internal/bgp"
)

// DecodeMessage decodes one complete BMP message from the start of buf.
// Bytes beyond the declared length are ignored. sink may be nil.
//
// Header failures return a nil message. Once the common and per-peer
// headers have decoded the message is always returned; a failure of the
// embedded BGP message is then reported as a *DecodeError wrapping ErrBGP
// and the BGP error. A partially decoded UPDATE sets Message.BGP and the
// error also matches bgp.ErrPartial.
func DecodeMessage(buf []byte, sink DiagnosticSink) (*Message, error) {
	if sink == nil {
		sink = NopSink
	}
	if len(buf) < CommonHeaderSize {
		return nil, &DecodeError{
			Field: "common_header",
			Err:   fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(buf), CommonHeaderSize),
		}
	}

	version := buf[0]
	if version != BMPVersion {
		return nil, &DecodeError{Field: "version", Err: fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, version, BMPVersion)}
	}

	msgLength := binary.BigEndian.Uint32(buf[1:5])
	if msgLength < CommonHeaderSize {
		return nil, &DecodeError{
			Field:  "msg_length",
			Offset: 1,
			Err:    fmt.Errorf("%w: declared %d smaller than common header size %d", ErrBadLength, msgLength, CommonHeaderSize),
		}
	}
	if uint64(msgLength) > uint64(len(buf)) {
		return nil, &DecodeError{
			Field:  "msg_length",
			Offset: 1,
			Err:    fmt.Errorf("%w: declared %d exceeds available %d", ErrTooShort, msgLength, len(buf)),
		}
	}

	msgType := buf[5]
	if msgType > maxMsgType {
		err := &DecodeError{Field: "msg_type", Offset: 5, Err: fmt.Errorf("%w: %d", ErrUnknownType, msgType)}
		sink.Report(Diagnostic{Stage: StageHeader, Field: "msg_type", Offset: 5, Err: err})
		return nil, err
	}

	data := buf[:msgLength]
	m := &Message{
		Version: version,
		Length:  msgLength,
		Type:    msgType,
	}

	// Initiation and Termination carry no per-peer header.
	if msgType == MsgTypeInitiation || msgType == MsgTypeTermination {
		m.Payload = data[CommonHeaderSize:]
		m.Info = decodeTLVs(m.Payload, CommonHeaderSize, sink)
		return m, nil
	}

	peer, err := DecodePeerHeader(data)
	if err != nil {
		return nil, err
	}
	m.Peer = &peer
	m.Payload = data[PayloadOffset:]

	switch msgType {
	case MsgTypeRouteMonitoring:
		return decodeRouteMonitoring(m, data, sink)
	case MsgTypePeerUp:
		decodePeerUp(m, sink)
	case MsgTypePeerDown:
		decodePeerDown(m, sink)
	case MsgTypeStatisticsReport:
		decodeStatsReport(m, sink)
	}
	// Route Mirroring stays opaque.
	return m, nil
}

func decodeRouteMonitoring(m *Message, data []byte, sink DiagnosticSink) (*Message, error) {
	msg, err := bgp.DecodeMessage(m.Payload)
	if msg == nil {
		sink.Report(Diagnostic{Stage: StageBGP, Field: "bgp_message", Offset: PayloadOffset, Err: err})
		return m, &DecodeError{Field: "bgp_message", Offset: PayloadOffset, Err: fmt.Errorf("%w: %w", ErrBGP, err)}
	}
	m.BGP = msg

	if u := msg.Update; u != nil {
		for _, a := range u.Attributes {
			if bgp.KnownAttribute(a.TypeCode) {
				continue
			}
			sink.Report(Diagnostic{
				Stage:  StageAttribute,
				Field:  fmt.Sprintf("unknown attribute type %d", a.TypeCode),
				Offset: spanOffset(data, a.Value, PayloadOffset),
			})
		}
	}

	// RFC 9069: Loc-RIB Route Monitoring may carry TLVs after the BGP message.
	if rest := m.Payload[msg.Header.Length:]; len(rest) > 0 {
		m.Info = decodeTLVs(rest, PayloadOffset+int(msg.Header.Length), sink)
	}

	if err != nil {
		var pe *bgp.PartialError
		if errors.As(err, &pe) {
			for _, se := range pe.Sections {
				sink.Report(Diagnostic{
					Stage:  StageBGP,
					Field:  se.Section,
					Offset: PayloadOffset + bgp.HeaderSize + se.Offset,
					Err:    se,
				})
			}
		}
		return m, &DecodeError{Field: "bgp_message", Offset: PayloadOffset, Err: fmt.Errorf("%w: %w", ErrBGP, err)}
	}
	return m, nil
}

// decodePeerUp reads the Peer Up body (RFC 7854 §4.10):
//
//	Local Address (16 bytes) + Local Port (2) + Remote Port (2) +
//	Sent OPEN + Received OPEN + optional Information TLVs
//
// Loc-RIB Peer Up (RFC 9069 §4.4) carries only TLVs.
func decodePeerUp(m *Message, sink DiagnosticSink) {
	body := m.Payload
	if m.Peer.IsLocRIB() {
		m.Info = decodeTLVs(body, PayloadOffset, sink)
		return
	}
	if len(body) < 20 {
		sink.Report(Diagnostic{Stage: StageBody, Field: "peer_up", Offset: PayloadOffset,
			Err: fmt.Errorf("%w: peer up body %d bytes, need 20", ErrTooShort, len(body))})
		return
	}
	up := &PeerUp{
		LocalAddress: binary.BigEndian.Uint32(body[12:16]),
		LocalPort:    binary.BigEndian.Uint16(body[16:18]),
		RemotePort:   binary.BigEndian.Uint16(body[18:20]),
	}
	m.PeerUp = up

	offset := 20
	for i, field := range []string{"sent_open", "received_open"} {
		open, n, err := decodeEmbedded(body[offset:])
		if open == nil {
			sink.Report(Diagnostic{Stage: StageBody, Field: field, Offset: PayloadOffset + offset, Err: err})
			return
		}
		if err != nil {
			sink.Report(Diagnostic{Stage: StageBGP, Field: field, Offset: PayloadOffset + offset, Err: err})
		}
		if i == 0 {
			up.SentOpen = open
		} else {
			up.ReceivedOpen = open
		}
		offset += n
	}
	if offset < len(body) {
		m.Info = decodeTLVs(body[offset:], PayloadOffset+offset, sink)
	}
}

// decodePeerDown reads the reason code and, for reasons 1 and 3, the BGP
// NOTIFICATION that closed the session.
func decodePeerDown(m *Message, sink DiagnosticSink) {
	body := m.Payload
	if len(body) < 1 {
		sink.Report(Diagnostic{Stage: StageBody, Field: "peer_down_reason", Offset: PayloadOffset,
			Err: fmt.Errorf("%w: peer down without reason", ErrTooShort)})
		return
	}
	down := &PeerDown{Reason: body[0], Data: body[1:]}
	m.PeerDown = down

	if down.Reason == PeerDownLocalNotification || down.Reason == PeerDownRemoteNotification {
		msg, _, err := decodeEmbedded(body[1:])
		if msg == nil {
			sink.Report(Diagnostic{Stage: StageBody, Field: "peer_down_notification", Offset: PayloadOffset + 1, Err: err})
			return
		}
		if err != nil {
			sink.Report(Diagnostic{Stage: StageBGP, Field: "peer_down_notification", Offset: PayloadOffset + 1, Err: err})
		}
		down.Notification = msg
	}
}

// decodeStatsReport reads Stats Count followed by that many stat TLVs.
func decodeStatsReport(m *Message, sink DiagnosticSink) {
	body := m.Payload
	if len(body) < 4 {
		sink.Report(Diagnostic{Stage: StageBody, Field: "stats_count", Offset: PayloadOffset,
			Err: fmt.Errorf("%w: statistics report body %d bytes", ErrTooShort, len(body))})
		return
	}
	m.Stats = &StatsReport{
		Count: binary.BigEndian.Uint32(body[0:4]),
		Stats: decodeTLVs(body[4:], PayloadOffset+4, sink),
	}
	if int(m.Stats.Count) != len(m.Stats.Stats) {
		sink.Report(Diagnostic{Stage: StageBody, Field: "stats_count", Offset: PayloadOffset,
			Err: fmt.Errorf("declared %d stats, found %d", m.Stats.Count, len(m.Stats.Stats))})
	}
}

// decodeEmbedded decodes a BGP message at the start of data and returns the
// number of bytes it occupies. A partially decoded message is returned with
// its *bgp.PartialError.
func decodeEmbedded(data []byte) (*bgp.Message, int, error) {
	n, err := bgp.MessageLength(data)
	if err != nil {
		return nil, 0, err
	}
	msg, err := bgp.DecodeMessage(data[:n])
	if msg == nil {
		return nil, 0, err
	}
	return msg, n, err
}

// decodeTLVs walks 2-byte type, 2-byte length TLVs. A truncated trailing
// TLV is reported and dropped. base is the offset of data in the message.
func decodeTLVs(data []byte, base int, sink DiagnosticSink) []TLV {
	var tlvs []TLV
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			sink.Report(Diagnostic{Stage: StageBody, Field: "tlv", Offset: base + offset,
				Err: fmt.Errorf("%w: %d trailing bytes", ErrTooShort, len(data)-offset)})
			break
		}
		tlvType := binary.BigEndian.Uint16(data[offset : offset+2])
		tlvLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if offset+4+tlvLen > len(data) {
			sink.Report(Diagnostic{Stage: StageBody, Field: "tlv", Offset: base + offset,
				Err: fmt.Errorf("%w: tlv type %d declares %d bytes, have %d", ErrTooShort, tlvType, tlvLen, len(data)-offset-4)})
			break
		}
		tlvs = append(tlvs, TLV{Type: tlvType, Value: data[offset+4 : offset+4+tlvLen]})
		offset += 4 + tlvLen
	}
	return tlvs
}

// spanOffset returns where sub starts inside msg. sub must alias msg.
func spanOffset(msg, sub []byte, fallback int) int {
	if len(sub) == 0 {
		return fallback
	}
	off := cap(msg) - cap(sub)
	if off < 0 || off > len(msg) {
		return fallback
	}
	return off
}

// InfoString returns the first information TLV of type t as a string.
func (m *Message) InfoString(t uint16) (string, bool) {
	for _, tlv := range m.Info {
		if tlv.Type == t {
			return string(tlv.Value), true
		}
	}
	return "", false
}

// SysName returns the sysName TLV of an Initiation or Peer Up message.
func (m *Message) SysName() string {
	s, _ := m.InfoString(InfoTypeSysName)
	return s
}

// SysDescr returns the sysDescr TLV of an Initiation or Peer Up message.
func (m *Message) SysDescr() string {
	s, _ := m.InfoString(InfoTypeSysDescr)
	return s
}

// TableName returns the Loc-RIB table name TLV (RFC 9069 §5.1).
func (m *Message) TableName() string {
	if m.Peer == nil || !m.Peer.IsLocRIB() {
		return ""
	}
	s, _ := m.InfoString(InfoTypeString)
	return s
}

// TerminationReason returns the reason code of a Termination message.
func (m *Message) TerminationReason() (uint16, bool) {
	if m.Type != MsgTypeTermination {
		return 0, false
	}
	for _, tlv := range m.Info {
		if tlv.Type == TermTypeReason && len(tlv.Value) == 2 {
			return binary.BigEndian.Uint16(tlv.Value), true
		}
	}
	return 0, false
}
