package wsrelay

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

func newTestRelay() (*Relay, *bus.Mailbox, *bus.Mailbox) {
	toBus := bus.NewMailbox("to-bus", 4)
	fromBus := bus.NewMailbox("from-bus", 4)
	r := New(toBus, fromBus, "", log.New(nowhere{}, "", 0))
	return r, toBus, fromBus
}

type nowhere struct{}

func (nowhere) Write(p []byte) (int, error) { return len(p), nil }

// TestRelayBroadcastsOutboundToPeer exercises the writer side (§4.7): a
// command pushed onto fromBus reaches a connected peer as a JSON frame.
func TestRelayBroadcastsOutboundToPeer(t *testing.T) {
	r, _, fromBus := newTestRelay()
	srv := httptest.NewServer(http.HandlerFunc(r.handleUpgrade))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.broadcastLoop(ctx)

	conn := dial(t, srv.URL)
	defer conn.Close()

	waitForPeer(t, r)

	if err := fromBus.Send(bus.Command{Kind: bus.KindNfcCardRemoved}); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"NfcCardRemoved"`) {
		t.Fatalf("unexpected frame: %s", data)
	}
}

// TestRelayForwardsInboundToBus exercises the reader side (§4.7): a text
// frame sent by a peer is parsed and appears on toBus.
func TestRelayForwardsInboundToBus(t *testing.T) {
	r, toBus, _ := newTestRelay()
	srv := httptest.NewServer(http.HandlerFunc(r.handleUpgrade))
	defer srv.Close()

	conn := dial(t, srv.URL)
	defer conn.Close()

	frame := []byte(`{"type":"NfcReauthenticate"}`)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cmd := <-toBus.Receive():
		if cmd.Kind != bus.KindNfcReauthenticate {
			t.Fatalf("unexpected kind: %s", cmd.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound command")
	}
}

// TestRelayForwardsParseErrorWithoutClosing confirms a malformed frame
// surfaces an Error command rather than tearing down the connection (§7
// Parse).
func TestRelayForwardsParseErrorWithoutClosing(t *testing.T) {
	r, toBus, _ := newTestRelay()
	srv := httptest.NewServer(http.HandlerFunc(r.handleUpgrade))
	defer srv.Close()

	conn := dial(t, srv.URL)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cmd := <-toBus.Receive():
		if cmd.Kind != bus.KindError {
			t.Fatalf("unexpected kind: %s", cmd.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error command")
	}

	// The connection should still be usable afterwards.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"NfcReauthenticate"}`)); err != nil {
		t.Fatalf("write after parse error: %v", err)
	}
}

func dial(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForPeer(t *testing.T, r *Relay) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.peers)
		r.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for peer registration")
}
