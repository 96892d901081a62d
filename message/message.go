// Package message defines the Message container that flows between the
// codec, the framer, and the UDP transport, along with the wire-format
// version tags and connection-management command codes from spec.md §3.
package message

import (
	"fmt"

	"github.com/fkie/jaus-ws-bridge/address"
)

// Version identifies which JAUS datagram framing a Message uses.
type Version byte

// Wire-format version tags. AS5669 (v1) packets have a 16-byte minimum;
// AS5684 (v2) packets have a 14-byte minimum (spec.md §3, §6).
const (
	AS5669 Version = 1
	AS5684 Version = 2
)

// MinPacketSize returns the minimum datagram size for v, or 0 if v is not a
// recognised version.
func (v Version) MinPacketSize() int {
	switch v {
	case AS5669:
		return 16
	case AS5684:
		return 14
	default:
		return 0
	}
}

// CmdCode is nonzero for the CONNECT/ACCEPT/CANCEL connection-management
// handshake, and zero for ordinary data messages.
type CmdCode byte

// Connection-management command codes.
const (
	CodeData    CmdCode = 0
	CodeConnect CmdCode = 1
	CodeAccept  CmdCode = 2
	CodeCancel  CmdCode = 3
)

// EndpointKind classifies where an Endpoint sits relative to this process.
type EndpointKind int

// Recognised endpoint kinds.
const (
	UDP EndpointKind = iota
	UDPLocal
)

func (k EndpointKind) String() string {
	if k == UDPLocal {
		return "UDP_LOCAL"
	}
	return "UDP"
}

// Endpoint is a transport hint attached to a Message: where it came from
// (TInfoSrc) or where it should be sent (TInfoDst).
type Endpoint struct {
	Kind EndpointKind
	Host string
	Port int
}

func (e Endpoint) String() string {
	if e.Host == "" && e.Port == 0 {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s(%s:%d)", e.Kind, e.Host, e.Port)
}

// Message is the container carried between the codec, the framer, and the
// transport. Messages are created per-exchange and dropped after send or
// dispatch; they are not pooled or reused.
type Message struct {
	Version Version
	CmdCode CmdCode
	MsgID   uint16
	SrcID   address.Address
	DstID   address.Address
	// SeqNr is assigned at send time by the owning transport; zero until then.
	SeqNr   uint32
	Payload []byte

	TInfoSrc *Endpoint
	TInfoDst *Endpoint
}

// New returns a data Message (CmdCode == CodeData) for the given message id.
func New(msgID uint16) *Message {
	return &Message{MsgID: msgID}
}

// AppendPayload appends b to the message's payload buffer. The codec builds
// the payload purely by repeated calls to AppendPayload in schema order.
func (m *Message) AppendPayload(b []byte) {
	m.Payload = append(m.Payload, b...)
}

// IDHex renders MsgID the way the JSON bridge format and the schema
// registry key their messages: lowercase hex, zero-padded to 4 characters.
func (m *Message) IDHex() string {
	return fmt.Sprintf("%04x", m.MsgID)
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s cmd=%d src=%s dst=%s seq=%d len(payload)=%d}",
		m.IDHex(), m.CmdCode, m.SrcID, m.DstID, m.SeqNr, len(m.Payload))
}
