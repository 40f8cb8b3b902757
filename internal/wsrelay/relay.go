package wsrelay

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

// peerMailboxCapacity is the bounded capacity of each peer's outbound
// mailbox (§3, §5).
const peerMailboxCapacity = 16

// ListenAddr is the default bind address this system's relay listens on
// (§4.7, §6); a non-empty addr passed to New overrides it.
const ListenAddr = "0.0.0.0:9001"

// peer is one connected remote client: its socket address and its own
// bounded outbound mailbox, owned by a single writer goroutine (§3
// Ownership).
type peer struct {
	id      string
	addr    string
	conn    *websocket.Conn
	mailbox *bus.Mailbox
}

// Relay accepts multiple peer connections, fans outbound bus commands out
// to every peer, and forwards parsed inbound frames onto the shared bus
// (§4.7). toBus is the mailbox inbound commands are pushed onto (read by
// the Router); fromBus is the Router's websocket-outbound sink this relay
// drains and broadcasts.
type Relay struct {
	toBus   *bus.Mailbox
	fromBus *bus.Mailbox
	logger  *log.Logger
	addr    string

	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*peer

	httpServer *http.Server
}

// New builds a Relay. toBus is where parsed inbound commands are sent;
// fromBus is drained and broadcast to every connected peer. addr overrides
// ListenAddr when non-empty (§6).
func New(toBus, fromBus *bus.Mailbox, addr string, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		toBus:   toBus,
		fromBus: fromBus,
		logger:  logger,
		addr:    addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
	}
}

// Run starts the HTTP/websocket accept loop on listenAddr() and the
// broadcast-fan-out loop, blocking until ctx is cancelled or the listener
// fails.
func (r *Relay) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleUpgrade)

	r.httpServer = &http.Server{Addr: r.listenAddr(), Handler: mux}

	mdnsServer, err := registerMDNS(r.httpServer.Addr, r.logger)
	if err != nil {
		r.logger.Printf("[wsrelay] mDNS unavailable, continuing without discovery: %v", err)
	} else {
		defer mdnsServer.Shutdown()
	}

	serveErr := make(chan error, 1)
	go func() {
		r.logger.Printf("[wsrelay] listening on %s", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	go r.broadcastLoop(ctx)

	select {
	case <-ctx.Done():
		_ = r.httpServer.Close()
		return nil
	case err := <-serveErr:
		return err
	}
}

// listenAddr returns the relay's configured bind address, defaulting to
// ListenAddr when New was given an empty addr.
func (r *Relay) listenAddr() string {
	if r.addr != "" {
		return r.addr
	}
	return ListenAddr
}

// broadcastLoop drains fromBus and clones every outbound command into each
// connected peer's mailbox (§4.7 "Outbound broadcast").
func (r *Relay) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-r.fromBus.Receive():
			if !ok {
				return
			}
			r.broadcast(cmd)
		}
	}
}

func (r *Relay) broadcast(cmd bus.Command) {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		if err := p.mailbox.Send(cmd); err != nil {
			r.logger.Printf("[wsrelay] peer %s: outbound mailbox full, dropping connection: %v", p.addr, err)
			r.removePeer(p.addr)
			p.conn.Close()
		}
	}
}

func (r *Relay) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("[wsrelay] upgrade failed: %v", err)
		return
	}

	p := &peer{
		id:      uuid.New().String(),
		addr:    conn.RemoteAddr().String(),
		conn:    conn,
		mailbox: bus.NewMailbox(fmt.Sprintf("wsrelay-peer-%s", conn.RemoteAddr()), peerMailboxCapacity),
	}

	r.mu.Lock()
	r.peers[p.addr] = p
	r.mu.Unlock()
	r.logger.Printf("[wsrelay] peer connected: %s (id=%s)", p.addr, p.id)

	go r.writerLoop(p)
	go r.readerLoop(p)
}

// writerLoop drains p's mailbox and serializes each command as a JSON text
// frame (§4.7 "a writer draining a per-peer mailbox").
func (r *Relay) writerLoop(p *peer) {
	for cmd := range p.mailbox.Receive() {
		data, err := EncodeOutbound(cmd)
		if err != nil {
			r.logger.Printf("[wsrelay] peer %s: encode %s: %v", p.addr, cmd.Kind, err)
			continue
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			r.logger.Printf("[wsrelay] peer %s: write failed: %v", p.addr, err)
			r.removePeer(p.addr)
			p.conn.Close()
			return
		}
	}
}

// readerLoop deserializes inbound text frames into bus commands and pushes
// them onto the shared bus (§4.7 "a reader deserializing inbound text
// frames"). A parse error surfaces a single Error command rather than
// tearing down the connection (§7 Parse); a transport-level read failure
// removes the peer and surfaces a transport Error (§7 Transport).
func (r *Relay) readerLoop(p *peer) {
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			r.logger.Printf("[wsrelay] peer %s: read failed: %v", p.addr, err)
			r.removePeer(p.addr)
			_ = r.toBus.Send(bus.Command{Kind: bus.KindError, Source: "Websocket", Message: "peer disconnected"})
			return
		}

		cmd, err := DecodeInbound(raw)
		if err != nil {
			r.logger.Printf("[wsrelay] peer %s: %v", p.addr, err)
			_ = r.toBus.Send(bus.Command{Kind: bus.KindError, Source: "Websocket", Message: err.Error()})
			continue
		}

		if err := r.toBus.Send(cmd); err != nil {
			// A full bus mailbox is a fatal control-plane defect (§5, §7
			// Fatal); there is nothing this connection can do but log it,
			// the process is expected to exit shortly.
			r.logger.Printf("[wsrelay] peer %s: bus send failed: %v", p.addr, err)
			return
		}
	}
}

func (r *Relay) removePeer(addr string) {
	r.mu.Lock()
	delete(r.peers, addr)
	r.mu.Unlock()
}
