package wsserver_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fkie/jaus-ws-bridge/bridge"
	"github.com/fkie/jaus-ws-bridge/wsserver"
)

type fakeHandler struct {
	mu       sync.Mutex
	added    int
	removed  int
	received [][]byte
	gotFrame chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{gotFrame: make(chan struct{}, 1)}
}

func (h *fakeHandler) AddClient(c bridge.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added++
}

func (h *fakeHandler) RemoveClient(c bridge.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
}

func (h *fakeHandler) HandleFrame(c bridge.Client, raw []byte) error {
	h.mu.Lock()
	h.received = append(h.received, append([]byte(nil), raw...))
	h.mu.Unlock()
	select {
	case h.gotFrame <- struct{}{}:
	default:
	}
	return nil
}

func TestServeWSRoundTrip(t *testing.T) {
	h := newFakeHandler()
	s := wsserver.New("", h)

	ts := httptest.NewServer(s)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"messageId":"4b00"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case <-h.gotFrame:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleFrame")
	}

	h.mu.Lock()
	added, frames := h.added, len(h.received)
	h.mu.Unlock()
	if added != 1 {
		t.Errorf("AddClient called %d times, want 1", added)
	}
	if frames != 1 {
		t.Errorf("HandleFrame called %d times, want 1", frames)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)

	h.mu.Lock()
	removed := h.removed
	h.mu.Unlock()
	if removed != 1 {
		t.Errorf("RemoveClient called %d times, want 1", removed)
	}
}
