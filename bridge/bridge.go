// Package bridge is the router/glue of spec.md §4.7: it turns WS-ingress
// JSON frames into encoded UDP sends (tracking, per client, which JAUS
// source addresses it has introduced so the UDP transport's CONNECT
// handshake fires exactly once per address) and turns UDP-receive Messages
// into JSON frames broadcast to every connected WS client.
//
// Grounded on fkie_iop_json_connector/server.py: WsClientHandler.handle
// (ingress: parse JSON, track jausAddresses, first-sight connect, pack,
// enqueue), WsClientHandler.handle_close (disconnect sequence plus the
// best-effort plain-text disconnect notice, SPEC_FULL §2's supplemented
// feature), and Server.route_udp_msg (egress: unpack, broadcast to every
// client).
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fkie/jaus-ws-bridge/address"
	"github.com/fkie/jaus-ws-bridge/codec"
	"github.com/fkie/jaus-ws-bridge/message"
	"github.com/fkie/jaus-ws-bridge/metrics"
	"github.com/fkie/jaus-ws-bridge/schema"
	"github.com/fkie/jaus-ws-bridge/xlog"
)

// Client is the bridge's view of a connected WS client: something it can
// address in logs and push outgoing frames to.
type Client interface {
	ID() string
	Send(data []byte) error
}

// Transport is the subset of *transport.Socket the bridge needs, declared
// as an interface so this package doesn't import transport (transport
// depends on nothing here, but keeping the dependency one-directional
// keeps the two packages independently testable).
type Transport interface {
	Send(msg *message.Message) error
	ConnectJausAddress(a address.Address)
	DisconnectJausAddress(a address.Address)
}

// AddressEvents is notified of JAUS address connect/disconnect, satisfied
// by *addrevents.Server. Optional: a nil AddressEvents is a no-op.
type AddressEvents interface {
	Connected(a address.Address)
	Disconnected(a address.Address)
}

type ingressFrame struct {
	MessageID   string      `json:"messageId"`
	MessageName string      `json:"messageName,omitempty"`
	JausIDSrc   string      `json:"jausIdSrc"`
	JausIDDst   string      `json:"jausIdDst"`
	Data        codec.Value `json:"data"`
}

type egressFrame struct {
	MessageID string      `json:"messageId"`
	JausIDDst string      `json:"jausIdDst"`
	JausIDSrc string      `json:"jausIdSrc"`
	Data      codec.Value `json:"data,omitempty"`
}

// Bridge holds the set of connected WS clients, each client's set of seen
// JAUS source addresses, and the global address book CODE_CANCEL prunes
// (spec.md §4.6/§4.7, §5's "single mutex covers it").
type Bridge struct {
	reg       *schema.Registry
	transport Transport
	events    AddressEvents
	logger    *xlog.Logger

	mu       sync.Mutex
	clients  map[Client]map[address.Address]bool
	addrBook map[address.Address]bool
}

// New builds a Bridge. events may be nil.
func New(reg *schema.Registry, t Transport, events AddressEvents) *Bridge {
	return &Bridge{
		reg:       reg,
		transport: t,
		events:    events,
		logger:    xlog.New(xlog.LevelInfo, nil),
		clients:   make(map[Client]map[address.Address]bool),
		addrBook:  make(map[address.Address]bool),
	}
}

// SetLogger installs the per-message verbose logger HandleFrame and
// HandleUDP use to optionally echo each frame in full, per spec.md §6's
// -logMessages filter. A Bridge built via New already has a non-nil,
// always-silent (level info, no allowlist) logger; SetLogger replaces it.
func (b *Bridge) SetLogger(l *xlog.Logger) {
	b.logger = l
}

// AddClient registers a newly connected WS client.
func (b *Bridge) AddClient(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = make(map[address.Address]bool)
}

// RemoveClient runs the WS-disconnect sequence: disconnectJausAddress for
// every source address this client introduced, then a best-effort plain
// text notice to the remaining clients. The notice never blocks or fails
// the cancel sequence.
func (b *Bridge) RemoveClient(c Client) {
	b.mu.Lock()
	addrs := b.clients[c]
	delete(b.clients, c)
	remaining := make([]Client, 0, len(b.clients))
	for rc := range b.clients {
		remaining = append(remaining, rc)
	}
	b.mu.Unlock()

	for a := range addrs {
		b.transport.DisconnectJausAddress(a)
		if b.events != nil {
			b.events.Disconnected(a)
		}
	}

	notice := []byte(fmt.Sprintf("%s - disconnected", c.ID()))
	for _, rc := range remaining {
		if err := rc.Send(notice); err != nil {
			log.Printf("bridge: disconnect notice to %s failed: %v", rc.ID(), err)
		}
	}
}

// HandleFrame processes one WS-ingress JSON frame from c: parse, look up
// schema, encode, enqueue for UDP send. Encode failures are logged and the
// frame is dropped, matching spec.md §7's "encode failures at the top
// level log and return a false outcome ... the WS ingress path drops the
// frame" — HandleFrame itself only returns an error for a malformed frame
// that never reached the codec.
func (b *Bridge) HandleFrame(c Client, raw []byte) error {
	metrics.WSFramesIn.Inc()
	start := time.Now()

	var frame ingressFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("bridge: malformed WS frame: %w", err)
	}
	b.logger.Message(frame.MessageID, "bridge: ws->udp", frame)

	src, err := address.Parse(frame.JausIDSrc)
	if err != nil {
		return fmt.Errorf("bridge: jausIdSrc: %w", err)
	}
	dst, err := address.Parse(frame.JausIDDst)
	if err != nil {
		return fmt.Errorf("bridge: jausIdDst: %w", err)
	}
	msgID, err := strconv.ParseUint(frame.MessageID, 16, 16)
	if err != nil {
		return fmt.Errorf("bridge: malformed messageId %q: %w", frame.MessageID, err)
	}

	out := message.New(uint16(msgID))
	out.Version = message.AS5669
	out.SrcID = src
	out.DstID = dst

	if err := codec.EncodeMessage(frame.MessageID, frame.MessageName, frame.Data, b.reg, out); err != nil {
		metrics.CodecErrorCount.With(prometheus.Labels{"kind": codecErrorKind(err)}).Inc()
		log.Printf("bridge: encode failed for message %s from %s: %v", frame.MessageID, c.ID(), err)
		return nil
	}

	b.noteSourceAddress(c, src)

	if err := b.transport.Send(out); err != nil {
		log.Printf("bridge: enqueue for %s failed: %v", c.ID(), err)
	}
	metrics.BridgeLatencyHistogram.Observe(time.Since(start).Seconds())
	return nil
}

// codecErrorKind maps a codec error to the label value metrics.CodecErrorCount
// groups by.
func codecErrorKind(err error) string {
	switch {
	case errors.Is(err, codec.ErrMissingRequiredField):
		return "missing_required_field"
	case errors.Is(err, codec.ErrPayloadEncodeFailed):
		return "payload_encode_failed"
	case errors.Is(err, codec.ErrUnknownMessageID):
		return "unknown_message_id"
	case errors.Is(err, codec.ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "other"
	}
}

func (b *Bridge) noteSourceAddress(c Client, src address.Address) {
	b.mu.Lock()
	addrs, tracked := b.clients[c]
	isNew := tracked && !addrs[src]
	if tracked {
		addrs[src] = true
	}
	_, alreadyBooked := b.addrBook[src]
	b.addrBook[src] = true
	if !alreadyBooked {
		metrics.JausAddressesConnected.Set(float64(len(b.addrBook)))
	}
	b.mu.Unlock()

	if !isNew {
		return
	}
	b.transport.ConnectJausAddress(src)
	if b.events != nil {
		b.events.Connected(src)
	}
}

// HandleUDP is the transport.Router callback: decode the payload against
// the registered schema(s) for its message id and broadcast the resulting
// JSON frame to every connected WS client. An unknown message id still
// broadcasts a skeleton frame with no "data" field, per spec.md §7
// ("decode returns a skeleton result").
func (b *Bridge) HandleUDP(msg *message.Message) {
	frame := egressFrame{
		MessageID: msg.IDHex(),
		JausIDDst: msg.DstID.String(),
		JausIDSrc: msg.SrcID.String(),
	}
	_, data, err := codec.DecodeMessage(msg.IDHex(), msg.Payload, b.reg)
	switch {
	case err == nil:
		frame.Data = data
	case errors.Is(err, codec.ErrUnknownMessageID):
		metrics.CodecErrorCount.With(prometheus.Labels{"kind": "unknown_message_id"}).Inc()
		log.Printf("bridge: no schema for message id %s", msg.IDHex())
	default:
		metrics.CodecErrorCount.With(prometheus.Labels{"kind": codecErrorKind(err)}).Inc()
		log.Printf("bridge: decode failed for message id %s: %v", msg.IDHex(), err)
	}

	b.logger.Message(frame.MessageID, "bridge: udp->ws", frame)

	raw, err := json.Marshal(frame)
	if err != nil {
		log.Printf("bridge: marshal egress frame for %s failed: %v", msg.IDHex(), err)
		return
	}
	b.broadcast(raw)
}

func (b *Bridge) broadcast(raw []byte) {
	b.mu.Lock()
	clients := make([]Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		if err := c.Send(raw); err != nil {
			log.Printf("bridge: send to %s failed: %v", c.ID(), err)
		}
	}
	metrics.WSFramesOut.Inc()
}

// Remove satisfies transport.AddressBook: a CODE_CANCEL received on UDP
// prunes the address from the global address book.
func (b *Bridge) Remove(a address.Address) {
	b.mu.Lock()
	delete(b.addrBook, a)
	n := len(b.addrBook)
	b.mu.Unlock()
	metrics.JausAddressesConnected.Set(float64(n))
	if b.events != nil {
		b.events.Disconnected(a)
	}
}
