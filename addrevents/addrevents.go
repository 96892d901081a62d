// Package addrevents serves a JSONL feed of JAUS source-address
// connect/disconnect events over a Unix domain socket, so operators can
// observe the bridge's address book changing in real time without reading
// its logs.
//
// Adapted from the teacher's eventsocket package (eventsocket/server.go),
// which does the same thing for TCP flow open/close events: accept loop
// plus one goroutine fanning a channel of events out to every connected
// client, with write failures pruning that client. Here the event carries
// a JAUS address and a connect/disconnect verdict instead of a socket ID.
// This is purely additive instrumentation (SPEC_FULL §2): it never gates
// or delays the bridge's own CONNECT/CANCEL handshake emission.
package addrevents

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fkie/jaus-ws-bridge/address"
)

// Kind distinguishes a connect event from a disconnect event.
type Kind int

// Recognised event kinds.
const (
	Connected Kind = iota
	Disconnected
)

func (k Kind) String() string {
	if k == Disconnected {
		return "disconnected"
	}
	return "connected"
}

// Event is one line of the JSONL feed.
type Event struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
}

// Server fans JAUS address connect/disconnect events out to every client
// connected to its Unix domain socket. Create with New.
type Server struct {
	eventC       chan *Event
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	closed       bool
}

// New makes a Server that will serve clients on filename once Listen and
// Serve are both called.
func New(filename string) *Server {
	return &Server{
		filename: filename,
		eventC:   make(chan *Event, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

// Listen removes any stale socket file left by an unclean shutdown and
// starts listening. Serve must be called afterward to actually accept.
func (s *Server) Listen() error {
	os.Remove(s.filename)
	l, err := net.Listen("unix", s.filename)
	if err != nil {
		return fmt.Errorf("addrevents: listen %q: %w", s.filename, err)
	}
	s.unixListener = l
	return nil
}

// Serve accepts clients and fans out events until the listener is closed
// by Close. Run it in a goroutine.
func (s *Server) Serve() error {
	go s.notifyClients()
	for {
		conn, err := s.unixListener.Accept()
		if err != nil {
			return err
		}
		s.addClient(conn)
	}
}

// Close stops accepting and ends the event fan-out. Connections that were
// already accepted are not closed.
func (s *Server) Close() error {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()
	close(s.eventC)
	if s.unixListener == nil {
		return nil
	}
	return s.unixListener.Close()
}

func (s *Server) addClient(c net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.clients, c)
}

func (s *Server) sendToAllListeners(line string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, line); err != nil {
			log.Printf("addrevents: write to client %v failed: %v, removing it", c, err)
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *Server) notifyClients() {
	for event := range s.eventC {
		b, err := json.Marshal(event)
		if err != nil {
			log.Printf("addrevents: bad event %+v: %v", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Connected publishes a connect event for a.
func (s *Server) Connected(a address.Address) {
	s.publish(Connected, a)
}

// Disconnected publishes a disconnect event for a.
func (s *Server) Disconnected(a address.Address) {
	s.publish(Disconnected, a)
}

func (s *Server) publish(kind Kind, a address.Address) {
	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		return
	}
	s.eventC <- &Event{Event: kind.String(), Timestamp: time.Now(), Address: a.String()}
}
