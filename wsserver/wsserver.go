// Package wsserver is the minimal external WS collaborator spec.md
// specifies only at its interface to the core (§1, §6): accept
// connections, hand each inbound frame to a Handler, push each outbound
// frame back out. No auth, compression, or origin checking — those are
// explicitly out of scope (spec.md Non-goals).
//
// Grounded on the teacher's eventsocket/server.go accept-loop-plus-
// per-client-goroutine shape, retargeted from a Unix domain socket onto
// gorilla/websocket's HTTP-upgrade connections.
package wsserver

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fkie/jaus-ws-bridge/bridge"
	"github.com/fkie/jaus-ws-bridge/connid"
	"github.com/fkie/jaus-ws-bridge/metrics"
)

// Handler is the subset of *bridge.Bridge the server drives.
type Handler interface {
	AddClient(c bridge.Client)
	RemoveClient(c bridge.Client)
	HandleFrame(c bridge.Client, raw []byte) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts WS connections on one HTTP listener and routes each
// connection's lifecycle and frames through Handler.
type Server struct {
	Addr    string
	Handler Handler
}

// New builds a Server. It does not start listening until ListenAndServe.
func New(addr string, h Handler) *Server {
	return &Server{Addr: addr, Handler: h}
}

// ListenAndServe blocks accepting WS connections until the listener fails.
func (s *Server) ListenAndServe() error {
	log.Printf("wsserver: listening on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s)
}

// ServeHTTP upgrades every request to a WS connection and runs it through
// Handler until it closes. Exported so a Server can be mounted into any
// http.Handler (a shared mux, httptest, a TLS-terminating front end) rather
// than only driven via ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsserver: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := newClient(conn)
	s.Handler.AddClient(c)
	metrics.WSClientsConnected.Inc()
	log.Printf("wsserver: %s connected", c.ID())
	c.readPump(s.Handler)
	s.Handler.RemoveClient(c)
	metrics.WSClientsConnected.Dec()
	log.Printf("wsserver: %s disconnected", c.ID())
}

// client adapts one gorilla *websocket.Conn to bridge.Client. gorilla
// requires at most one concurrent writer per connection, so Send
// serializes behind mu.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn) *client {
	return &client{id: connid.New(conn.UnderlyingConn()), conn: conn}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) readPump(h Handler) {
	defer c.conn.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("wsserver: %s read error: %v", c.id, err)
			}
			return
		}
		if err := h.HandleFrame(c, raw); err != nil {
			log.Printf("wsserver: %s: %v", c.id, err)
		}
	}
}
