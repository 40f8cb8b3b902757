// Package bus implements the single-consumer bounded event mailbox that
// sequences interactions between the websocket relay, the NFC engine, the
// barcode reader, and the backend-proxy context.
//
// Grounded on nedpals-davi-nfc-agent/server/websocket.go's
// WebsocketMessage{Type, Payload} envelope shape, generalized from a single
// websocket frame type into the full outbound/inbound command variant set
// this system's event bus carries, and on nfc/errors.go's structured-error
// convention for the mailbox-full fatal case.
package bus

import "fmt"

// Kind names one of the tagged command variants carried on the bus.
type Kind string

// Outbound variants: terminal -> peer.
const (
	KindBarcodeIdentifyRequest Kind = "BarcodeIdentifyRequest"
	KindNfcIdentifyRequest     Kind = "NfcIdentifyRequest"
	KindNfcChallengeRequest    Kind = "NfcChallengeRequest"
	KindNfcResponseRequest     Kind = "NfcResponseRequest"
	KindNfcCardRemoved         Kind = "NfcCardRemoved"
	KindNfcRegisterRequest     Kind = "NfcRegisterRequest"
	KindError                  Kind = "Error"
)

// Inbound variants: peer -> terminal, already decoded off the wire.
const (
	KindNfcIdentifyResponse  Kind = "NfcIdentifyResponse"
	KindNfcChallengeResponse Kind = "NfcChallengeResponse"
	KindNfcResponseResponse  Kind = "NfcResponseResponse"
	KindNfcRegister          Kind = "NfcRegister"
	KindNfcReauthenticate    Kind = "NfcReauthenticate"
)

// CardType mirrors the wire enum carried by NfcIdentifyResponse and
// NfcRegisterRequest.
type CardType string

const (
	CardTypeGenericNfc       CardType = "GenericNfc"
	CardTypeAsciiMifare      CardType = "AsciiMifare"
	CardTypeHostCardEmulation CardType = "HostCardEmulation"
)

// Command is the tagged variant the bus carries. Only the fields relevant
// to Kind are populated; this mirrors the teacher's single envelope-struct
// convention (server/websocket.go's WebsocketMessage) rather than an
// interface per variant, since the variant set is closed and small.
type Command struct {
	Kind Kind

	// BarcodeIdentifyRequest
	Barcode string

	// Shared across several NFC variants
	CardID []byte

	// NfcIdentifyRequest
	Name string

	// NfcChallengeRequest / NfcChallengeResponse
	Request   []byte
	Challenge []byte

	// NfcResponseRequest
	Response []byte

	// NfcResponseResponse
	SessionKey []byte

	// NfcIdentifyResponse / NfcRegisterRequest
	CardType CardType

	// NfcRegisterRequest
	RegisterName string
	Data         []byte

	// Error
	Source  string
	Message string
}

// FatalError is raised when a bounded mailbox is full: per §5, this
// indicates a stuck consumer and is treated as a fatal internal defect, not
// something the caller can recover from.
type FatalError struct {
	Mailbox string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("bus: mailbox %q is full: fatal control-plane defect", e.Mailbox)
}

// Mailbox is a bounded, single-consumer, multi-producer command channel.
type Mailbox struct {
	name string
	ch   chan Command
}

// NewMailbox creates a bounded mailbox of the given capacity, identified by
// name for diagnostics and FatalError messages.
func NewMailbox(name string, capacity int) *Mailbox {
	return &Mailbox{name: name, ch: make(chan Command, capacity)}
}

// Send enqueues a command. A full mailbox is a fatal invariant violation
// (§3, §5): Send never blocks and never silently drops — it returns
// *FatalError immediately instead.
func (m *Mailbox) Send(cmd Command) error {
	select {
	case m.ch <- cmd:
		return nil
	default:
		return &FatalError{Mailbox: m.name}
	}
}

// Receive returns the mailbox's receive-only channel for the single
// consumer task to range/select over.
func (m *Mailbox) Receive() <-chan Command {
	return m.ch
}

// Name returns the mailbox's diagnostic name.
func (m *Mailbox) Name() string {
	return m.name
}

// Router is the single consumer that pulls commands off the main bus and
// fans them out to the websocket-outbound or NFC-inbound sink mailboxes,
// per §4.6.
type Router struct {
	bus           *Mailbox
	wsOutbound    *Mailbox
	nfcInbound    *Mailbox
}

// NewRouter wires a bus mailbox to its two fan-out sinks.
func NewRouter(bus, wsOutbound, nfcInbound *Mailbox) *Router {
	return &Router{bus: bus, wsOutbound: wsOutbound, nfcInbound: nfcInbound}
}

// isInbound reports whether a Kind originates from the peer.
func isInbound(k Kind) bool {
	switch k {
	case KindNfcIdentifyResponse, KindNfcChallengeResponse, KindNfcResponseResponse, KindNfcRegister, KindNfcReauthenticate:
		return true
	default:
		return false
	}
}

// Run drains the bus until it is closed or a fan-out mailbox is full, in
// which case the fatal error is returned and the caller is expected to exit
// the process (§7 Fatal).
func (r *Router) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case cmd, ok := <-r.bus.Receive():
			if !ok {
				return nil
			}
			var sink *Mailbox
			if isInbound(cmd.Kind) {
				sink = r.nfcInbound
			} else {
				sink = r.wsOutbound
			}
			if err := sink.Send(cmd); err != nil {
				return err
			}
		}
	}
}
