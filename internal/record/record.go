// Package record turns decoded BMP messages into the JSON documents the
// proxy forwards downstream.
package record

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/route-beacon/bmp-proxy/internal/bgp"
	"github.com/route-beacon/bmp-proxy/internal/bmp"
)

// Meta identifies where a message was received.
type Meta struct {
	Conn       string
	Offset     int64
	ReceivedAt time.Time
}

// Record is one framed BMP message with everything that decoded.
type Record struct {
	EventID    string    `json:"event_id"`
	Conn       string    `json:"conn"`
	Offset     int64     `json:"offset"`
	ReceivedAt time.Time `json:"received_at"`
	Length     int       `json:"length"`
	Type       string    `json:"type"`
	TypeCode   uint8     `json:"type_code"`

	Peer     *Peer     `json:"peer,omitempty"`
	BGP      *BGP      `json:"bgp,omitempty"`
	Info     []Info    `json:"info,omitempty"`
	PeerUp   *PeerUp   `json:"peer_up,omitempty"`
	PeerDown *PeerDown `json:"peer_down,omitempty"`
	Stats    *Stats    `json:"stats,omitempty"`
	Errors   []Error   `json:"errors,omitempty"`

	// Raw is the complete BMP message. It is only serialized when the
	// forwarder is configured to include it.
	Raw []byte `json:"raw,omitempty"`
}

type Peer struct {
	Type          uint8     `json:"type"`
	Flags         uint8     `json:"flags"`
	Distinguisher uint64    `json:"distinguisher"`
	Address       string    `json:"address"`
	AS            uint32    `json:"as"`
	BGPID         string    `json:"bgp_id"`
	Timestamp     time.Time `json:"timestamp"`
	PostPolicy    bool      `json:"post_policy"`
	LocRIB        bool      `json:"loc_rib"`
	RouterID      string    `json:"router_id,omitempty"`
}

type BGP struct {
	Type         string        `json:"type"`
	Length       uint16        `json:"length"`
	Update       *Update       `json:"update,omitempty"`
	Open         *Open         `json:"open,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Update struct {
	Withdrawn       []string      `json:"withdrawn,omitempty"`
	NLRI            []string      `json:"nlri,omitempty"`
	Origin          string        `json:"origin,omitempty"`
	ASPath          string        `json:"as_path,omitempty"`
	NextHop         string        `json:"next_hop,omitempty"`
	MED             *uint32       `json:"med,omitempty"`
	LocalPref       *uint32       `json:"local_pref,omitempty"`
	AtomicAggregate bool          `json:"atomic_aggregate,omitempty"`
	Aggregator      *Aggregator   `json:"aggregator,omitempty"`
	Unknown         []UnknownAttr `json:"unknown_attributes,omitempty"`
	EndOfRIB        bool          `json:"end_of_rib,omitempty"`
}

type Aggregator struct {
	AS      uint16 `json:"as"`
	Address string `json:"address"`
}

type UnknownAttr struct {
	Code  uint8  `json:"code"`
	Flags uint8  `json:"flags"`
	Value string `json:"value"`
}

type Open struct {
	Version  uint8  `json:"version"`
	AS       uint32 `json:"as"`
	HoldTime uint16 `json:"hold_time"`
	BGPID    string `json:"bgp_id"`
}

type Notification struct {
	Code    uint8  `json:"code"`
	Subcode uint8  `json:"subcode"`
	Data    string `json:"data,omitempty"`
}

// Info is an Initiation, Termination or Loc-RIB information TLV.
type Info struct {
	Type  uint16 `json:"type"`
	Value string `json:"value"`
}

type PeerUp struct {
	LocalAddress string `json:"local_address"`
	LocalPort    uint16 `json:"local_port"`
	RemotePort   uint16 `json:"remote_port"`
	SentOpen     *Open  `json:"sent_open,omitempty"`
	ReceivedOpen *Open  `json:"received_open,omitempty"`
}

type PeerDown struct {
	Reason       uint8         `json:"reason"`
	Notification *Notification `json:"notification,omitempty"`
}

type Stats struct {
	Count    uint32 `json:"count"`
	Counters []Stat `json:"counters,omitempty"`
}

// Stat carries a 4- or 8-byte counter value; other lengths are kept as hex.
type Stat struct {
	Type  uint16 `json:"type"`
	Value uint64 `json:"value"`
	Raw   string `json:"raw,omitempty"`
}

// Error describes one decode failure or diagnostic attached to a record.
type Error struct {
	Stage   string `json:"stage"`
	Field   string `json:"field,omitempty"`
	Offset  int    `json:"offset"`
	Message string `json:"message"`
}

// Build assembles a record from a framed message. m is nil when the headers
// did not decode; decodeErr and diags are attached as error descriptors.
func Build(meta Meta, raw []byte, m *bmp.Message, decodeErr error, diags []bmp.Diagnostic) *Record {
	r := &Record{
		EventID:    EventIDString(raw),
		Conn:       meta.Conn,
		Offset:     meta.Offset,
		ReceivedAt: meta.ReceivedAt.UTC(),
		Length:     len(raw),
		Type:       "unknown",
		Raw:        raw,
	}
	if len(raw) >= bmp.CommonHeaderSize {
		r.TypeCode = raw[5]
		r.Type = bmp.MsgTypeName(raw[5])
	}

	for _, d := range diags {
		e := Error{Stage: d.Stage, Field: d.Field, Offset: d.Offset, Message: d.Field}
		if d.Err != nil {
			e.Message = d.Err.Error()
		}
		r.Errors = append(r.Errors, e)
	}
	if decodeErr != nil && !reported(decodeErr, diags) {
		r.Errors = append(r.Errors, errorFor(decodeErr))
	}

	if m == nil {
		return r
	}
	if m.Peer != nil {
		r.Peer = peerFrom(m.Peer)
	}
	if m.BGP != nil {
		r.BGP = bgpFrom(m.BGP)
	}
	for _, tlv := range m.Info {
		r.Info = append(r.Info, Info{Type: tlv.Type, Value: string(tlv.Value)})
	}
	if up := m.PeerUp; up != nil {
		r.PeerUp = &PeerUp{
			LocalAddress: ipv4String(up.LocalAddress),
			LocalPort:    up.LocalPort,
			RemotePort:   up.RemotePort,
			SentOpen:     openFrom(up.SentOpen),
			ReceivedOpen: openFrom(up.ReceivedOpen),
		}
	}
	if down := m.PeerDown; down != nil {
		r.PeerDown = &PeerDown{Reason: down.Reason}
		if down.Notification != nil && down.Notification.Notification != nil {
			r.PeerDown.Notification = notificationFrom(down.Notification.Notification)
		}
	}
	if st := m.Stats; st != nil {
		r.Stats = &Stats{Count: st.Count}
		for _, tlv := range st.Stats {
			r.Stats.Counters = append(r.Stats.Counters, statFrom(tlv))
		}
	}
	return r
}

// Marshal encodes the record as JSON. includeRaw controls whether the raw
// BMP bytes are embedded (base64).
func (r *Record) Marshal(includeRaw bool) ([]byte, error) {
	if includeRaw || r.Raw == nil {
		return json.Marshal(r)
	}
	c := *r
	c.Raw = nil
	return json.Marshal(&c)
}

// HasErrors reports whether any decode failure or diagnostic was recorded.
func (r *Record) HasErrors() bool { return len(r.Errors) > 0 }

// reported avoids duplicating a decoder error whose cause was already
// pushed to the diagnostic sink.
func reported(err error, diags []bmp.Diagnostic) bool {
	for _, d := range diags {
		if d.Err != nil && errors.Is(err, d.Err) {
			return true
		}
	}
	return false
}

func errorFor(err error) Error {
	e := Error{Stage: bmp.StageHeader, Message: err.Error()}
	var de *bmp.DecodeError
	if errors.As(err, &de) {
		e.Field = de.Field
		e.Offset = de.Offset
		if de.Field == "per_peer_header" {
			e.Stage = bmp.StagePeer
		}
	}
	if errors.Is(err, bmp.ErrBGP) {
		e.Stage = bmp.StageBGP
	}
	return e
}

func peerFrom(p *bmp.PeerHeader) *Peer {
	return &Peer{
		Type:          p.Type,
		Flags:         p.Flags,
		Distinguisher: p.Distinguisher,
		Address:       p.AddressString(),
		AS:            p.AS,
		BGPID:         p.BGPIDString(),
		Timestamp:     p.Timestamp(),
		PostPolicy:    p.IsPostPolicy(),
		LocRIB:        p.IsLocRIB(),
		RouterID:      p.RouterID(),
	}
}

func bgpFrom(m *bgp.Message) *BGP {
	b := &BGP{
		Type:   bgp.MsgTypeName(m.Header.Type),
		Length: m.Header.Length,
		Open:   openFrom(m),
	}
	if m.Notification != nil {
		b.Notification = notificationFrom(m.Notification)
	}
	if u := m.Update; u != nil {
		b.Update = updateFrom(u)
	}
	return b
}

func updateFrom(u *bgp.Update) *Update {
	out := &Update{EndOfRIB: u.IsEndOfRIB()}
	for _, p := range u.Withdrawn {
		out.Withdrawn = append(out.Withdrawn, p.String())
	}
	for _, p := range u.NLRI {
		out.NLRI = append(out.NLRI, p.String())
	}

	s := u.Set
	if s.Origin != nil {
		out.Origin = s.Origin.String()
	}
	if s.ASPath != nil {
		out.ASPath = s.ASPath.String()
	}
	if s.NextHop != nil {
		out.NextHop = s.NextHop.String()
	}
	if s.MED != nil {
		v := uint32(*s.MED)
		out.MED = &v
	}
	if s.LocalPref != nil {
		v := uint32(*s.LocalPref)
		out.LocalPref = &v
	}
	out.AtomicAggregate = s.AtomicAggregate
	if s.Aggregator != nil {
		out.Aggregator = &Aggregator{AS: s.Aggregator.AS, Address: ipv4String(s.Aggregator.Addr)}
	}

	// Wire order, taken from the raw list so flags survive.
	for _, a := range u.Attributes {
		if bgp.KnownAttribute(a.TypeCode) {
			continue
		}
		out.Unknown = append(out.Unknown, UnknownAttr{
			Code:  a.TypeCode,
			Flags: uint8(a.Flags),
			Value: hex.EncodeToString(a.Value),
		})
	}
	return out
}

func openFrom(m *bgp.Message) *Open {
	if m == nil || m.Open == nil {
		return nil
	}
	o := m.Open
	as := uint32(o.AS)
	if as4, ok := o.FourOctetAS(); ok {
		as = as4
	}
	return &Open{Version: o.Version, AS: as, HoldTime: o.HoldTime, BGPID: o.BGPIDString()}
}

func notificationFrom(n *bgp.Notification) *Notification {
	out := &Notification{Code: n.Code(), Subcode: n.Subcode()}
	if len(n.Data) > 2 {
		out.Data = hex.EncodeToString(n.Data[2:])
	}
	return out
}

func statFrom(tlv bmp.TLV) Stat {
	s := Stat{Type: tlv.Type}
	switch len(tlv.Value) {
	case 4:
		s.Value = uint64(binary.BigEndian.Uint32(tlv.Value))
	case 8:
		s.Value = binary.BigEndian.Uint64(tlv.Value)
	default:
		s.Raw = hex.EncodeToString(tlv.Value)
	}
	return s
}

func ipv4String(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}
