// Package transport implements the one-socket-per-interface UDP transport
// of spec.md §4.6: a bounded send queue drained by a background sender that
// assigns sequence numbers and frames outgoing Messages, a receive loop that
// frames incoming datagrams and dispatches or handles them as connection
// management, and the connectJausAddress/disconnectJausAddress handshake.
//
// Grounded on fkie_iop_json_connector/transport/udp_uc.py's UDPucSocket:
// same three-loop shape (recv, send, close), same errno classification in
// _sendto, same "classify endpoint once per (host,port), cache it" idiom in
// _loop_recv. Socket-call idiom (raw fd via golang.org/x/sys/unix rather
// than net.UDPConn) follows the teacher's own preference for x/sys/unix
// over the stdlib syscall package wherever it has a choice (netlink_linux.go).
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fkie/jaus-ws-bridge/address"
	"github.com/fkie/jaus-ws-bridge/cache"
	"github.com/fkie/jaus-ws-bridge/framer"
	"github.com/fkie/jaus-ws-bridge/message"
	"github.com/fkie/jaus-ws-bridge/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds from spec.md §7 this package can return.
var (
	ErrQueueFull = errors.New("transport: send queue full")
	ErrClosed    = errors.New("transport: socket is closed")
)

const recvBufferSize = 65535
const sendQueueCapacity = 256

// Router is called once per dispatchable (non connection-management)
// Message received off the wire.
type Router func(*message.Message)

// AddressBook is notified when a CODE_CANCEL message arrives for a source,
// so that the bridge's address bookkeeping can react (spec.md §4.6/§4.7).
type AddressBook interface {
	Remove(a address.Address)
}

// Options configures a new Socket.
type Options struct {
	Host        string // bind address; empty means all interfaces
	Port        int    // bind port; 0 lets the OS choose
	DefaultDst  *message.Endpoint
	Router      Router
	AddressBook AddressBook
}

// Socket is one bound UDP socket with its send queue, sender, and receiver.
type Socket struct {
	fd       int
	port     int
	hostname string

	defaultDst  *message.Endpoint
	router      Router
	addressBook AddressBook

	seqnr uint32 // atomic, wraps at 2^32 per spec.md §4.6

	highPriority chan *message.Message
	lowPriority  chan *message.Message

	nmConnected int32 // atomic bool, flipped by CODE_ACCEPT/CODE_CANCEL

	endpoints *cache.Cache

	noRouteMu     sync.Mutex
	noRouteLogged map[string]bool

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates, binds, and starts a Socket. If opts.Router is nil, no
// receive loop is started (a send-only socket), matching the source's
// `if self._router is not None` gating in UDPucSocket.__init__.
func New(opts Options) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	bindAddr := [4]byte{}
	if opts.Host != "" {
		ip := net.ParseIP(opts.Host)
		if ip == nil {
			resolved, err := net.ResolveIPAddr("ip4", opts.Host)
			if err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("transport: resolve %q: %w", opts.Host, err)
			}
			ip = resolved.IP
		}
		if v4 := ip.To4(); v4 != nil {
			copy(bindAddr[:], v4)
		}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: opts.Port, Addr: bindAddr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s:%d: %w", opts.Host, opts.Port, err)
	}

	port := opts.Port
	if port == 0 {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("transport: getsockname: %w", err)
		}
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			port = in4.Port
		}
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	s := &Socket{
		fd:            fd,
		port:          port,
		hostname:      hostname,
		defaultDst:    opts.DefaultDst,
		router:        opts.Router,
		addressBook:   opts.AddressBook,
		highPriority:  make(chan *message.Message, sendQueueCapacity),
		lowPriority:   make(chan *message.Message, sendQueueCapacity),
		endpoints:     cache.NewCache(),
		noRouteLogged: make(map[string]bool),
		closing:       make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sendLoop()
	if s.router != nil {
		s.wg.Add(1)
		go s.recvLoop()
	}
	log.Printf("transport: bound udp socket @(%s:%d)", opts.Host, port)
	return s, nil
}

// Port returns the bound local port (useful when opts.Port was 0).
func (s *Socket) Port() int { return s.port }

// NMConnected reports whether the most recent connection-management message
// seen was a CODE_ACCEPT not yet followed by a CODE_CANCEL.
func (s *Socket) NMConnected() bool { return atomic.LoadInt32(&s.nmConnected) != 0 }

// Send enqueues msg for transmission. Connection-management messages
// (CmdCode != CodeData) are given priority over ordinary data, mirroring
// the source's PQueue ordering. Returns ErrQueueFull if the relevant queue
// is at capacity.
func (s *Socket) Send(msg *message.Message) error {
	q := s.lowPriority
	if msg.CmdCode != message.CodeData {
		q = s.highPriority
	}
	select {
	case q <- msg:
		return nil
	default:
		metrics.QueueFullCount.Inc()
		return ErrQueueFull
	}
}

// ConnectJausAddress enqueues a synthetic CODE_CONNECT handshake Message
// for a, per spec.md §4.6.
func (s *Socket) ConnectJausAddress(a address.Address) {
	s.sendHandshake(a, message.CodeConnect)
}

// DisconnectJausAddress enqueues a synthetic CODE_CANCEL handshake Message
// for a, per spec.md §4.6.
func (s *Socket) DisconnectJausAddress(a address.Address) {
	s.sendHandshake(a, message.CodeCancel)
}

func (s *Socket) sendHandshake(a address.Address, code message.CmdCode) {
	msg := &message.Message{
		Version: message.AS5669,
		CmdCode: code,
		SrcID:   a,
		TInfoSrc: &message.Endpoint{
			Kind: message.UDP,
			Host: s.hostname,
			Port: s.port,
		},
	}
	if err := s.Send(msg); err != nil {
		log.Printf("transport: can't send handshake for %s: %v", a, err)
	}
}

// Close shuts the socket down for reads (unblocking recvfrom), closes the
// file descriptor, and waits for both loops to exit.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		unix.Shutdown(s.fd, unix.SHUT_RD)
		err = unix.Close(s.fd)
		s.wg.Wait()
	})
	return err
}

func (s *Socket) sendLoop() {
	defer s.wg.Done()
	for {
		var msg *message.Message
		select {
		case msg = <-s.highPriority:
		default:
			select {
			case msg = <-s.highPriority:
			case msg = <-s.lowPriority:
			case <-s.closing:
				return
			}
		}
		s.sendOne(msg)
	}
}

func (s *Socket) sendOne(msg *message.Message) {
	dst := msg.TInfoDst
	if dst == nil && s.defaultDst != nil {
		dst = s.defaultDst
	}
	if dst == nil {
		return
	}
	msg.SeqNr = atomic.AddUint32(&s.seqnr, 1) - 1

	data, err := framer.Serialize(msg)
	if err != nil {
		log.Printf("transport: serialize failed: %v", err)
		return
	}

	ip := net.ParseIP(dst.Host)
	if ip == nil {
		if resolved, err := net.ResolveIPAddr("ip4", dst.Host); err == nil {
			ip = resolved.IP
		}
	}
	var addr [4]byte
	if v4 := ip.To4(); v4 != nil {
		copy(addr[:], v4)
	}

	err = unix.Sendto(s.fd, data, 0, &unix.SockaddrInet4{Port: dst.Port, Addr: addr})
	if err == nil {
		metrics.PacketsSent.Inc()
		return
	}
	switch classifySendErr(err) {
	case sendErrBenign:
		metrics.SendErrorCount.With(prometheus.Labels{"kind": "benign"}).Inc()
		log.Printf("transport: benign send error to %s:%d: %v", dst.Host, dst.Port, err)
	case sendErrNoRoute:
		metrics.SendErrorCount.With(prometheus.Labels{"kind": "no_route"}).Inc()
		s.noRouteMu.Lock()
		already := s.noRouteLogged[dst.Host]
		s.noRouteLogged[dst.Host] = true
		s.noRouteMu.Unlock()
		if !already {
			log.Printf("transport: no route to %s:%d: %v", dst.Host, dst.Port, err)
		}
	case sendErrProgrammingBug:
		// spec.md §4.6/§7: EINVAL is fatal and propagates rather than being
		// swallowed like every other send error. sendOne has no caller to
		// return an error to (it runs on the sender goroutine), so
		// "propagate" here means crash the process the way an unhandled
		// exception would have in the source, instead of quietly logging
		// it alongside ordinary fatal errors.
		metrics.SendErrorCount.With(prometheus.Labels{"kind": "programming_bug"}).Inc()
		log.Panicf("transport: EINVAL sending to %s:%d: %v", dst.Host, dst.Port, err)
	default:
		metrics.SendErrorCount.With(prometheus.Labels{"kind": "fatal"}).Inc()
		log.Printf("transport: fatal send error to %s:%d: %v", dst.Host, dst.Port, err)
	}
}

func (s *Socket) recvLoop() {
	defer s.wg.Done()
	buf := make([]byte, recvBufferSize)
	for {
		n, from, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			log.Printf("transport: recv error: %v", err)
			continue
		}
		select {
		case <-s.closing:
			return
		default:
		}

		metrics.PacketsReceived.Inc()
		data := append([]byte(nil), buf[:n]...)
		msgs, err := framer.Parse(data)
		if err != nil {
			log.Printf("transport: framer.Parse failed: %v", err)
			continue
		}

		host, port := sockaddrHostPort(from)
		for _, msg := range msgs {
			if msg.DstID.IsZero() || msg.CmdCode != message.CodeData {
				s.handleConnectionManagement(msg)
				continue
			}
			ep := s.endpoints.Classify(host, port)
			msg.TInfoSrc = &ep
			s.router(msg)
		}
	}
}

func (s *Socket) handleConnectionManagement(msg *message.Message) {
	switch msg.CmdCode {
	case message.CodeAccept:
		atomic.StoreInt32(&s.nmConnected, 1)
	case message.CodeCancel:
		atomic.StoreInt32(&s.nmConnected, 0)
		if s.addressBook != nil {
			s.addressBook.Remove(msg.SrcID)
		}
	}
}

func sockaddrHostPort(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port
	default:
		return "", 0
	}
}
