// Package engine is the coordination fabric named in §2: it wires the
// reader scanner, the barcode producer, and the card-family dispatcher to
// the bus's NFC-inbound sink, keeping the card_id -> in-progress Handler
// index that lets a later inbound command (identify-response,
// challenge-response, response-response, register) find its way back to
// the right card session.
//
// Grounded on nedpals-davi-nfc-agent/nfc/tagdetect.go's "probe, then
// classify" shape for the dispatch-time UID probe, and on §9's explicit
// call for a channel-driven coordinator rather than a shared mutable state
// machine threaded through every component.
package engine

import (
	"context"
	"encoding/hex"
	"log"
	"sync"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/atrdb"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/backend"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/barcode"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/reader"
)

// Engine owns the card_id -> Handler session index and drives the card
// lifecycle in response to reader-scanner and bus-inbound events.
type Engine struct {
	scanner  *reader.Scanner
	inbound  *bus.Mailbox
	backend  backend.Context
	cardCfg  card.Config
	logger   *log.Logger
	barcodeP barcode.Producer
	diag     *atrdb.DB

	mu           sync.Mutex
	byReader     map[string]*card.Handler // reader name -> in-progress handler
	byCardID     map[string]*card.Handler // hex(card_id) -> in-progress handler
	readerOfCard map[string]string        // hex(card_id) -> reader name
}

// New wires an Engine around the scanner, the bus's NFC-inbound sink, and
// the backend-proxy context every handler uses to talk to the bus.
func New(scanner *reader.Scanner, inbound *bus.Mailbox, be backend.Context, cardCfg card.Config, barcodeP barcode.Producer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		scanner:      scanner,
		inbound:      inbound,
		backend:      be,
		cardCfg:      cardCfg,
		logger:       logger,
		barcodeP:     barcodeP,
		byReader:     make(map[string]*card.Handler),
		byCardID:     make(map[string]*card.Handler),
		readerOfCard: make(map[string]string),
	}
}

// SetDiagnosticDB attaches an optional ATR name database (§6, §9): when
// set, a newly-presented card's diagnostic name is logged alongside its
// dispatched family. Its absence never changes dispatch behavior.
func (e *Engine) SetDiagnosticDB(db *atrdb.DB) {
	e.diag = db
}

// Run drives all three of the engine's event sources until ctx is
// cancelled: reader presence transitions, inbound bus commands, and
// completed barcode scans.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runReaderEvents(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runInbound(ctx)
	}()
	if e.barcodeP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runBarcode(ctx)
		}()
	}
	wg.Wait()
}

func (e *Engine) runReaderEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.scanner.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case reader.EventPresent:
				e.onCardPresent(ctx, ev.Reader, ev.Card)
			case reader.EventAbsent:
				e.onCardAbsent(ev.Reader)
			}
		}
	}
}

func (e *Engine) onCardPresent(ctx context.Context, readerName string, c *card.Card) {
	uidReadable := probeUID(c.Tx)
	family := card.Dispatch(c.ATR, uidReadable)
	if e.diag != nil {
		if name, ok := e.diag.Lookup(c.ATR); ok {
			e.logger.Printf("[engine] %s: %s (dispatched as %s)", readerName, name, family)
		}
	}
	h := card.New(family, c, e.backend, e.cardCfg)

	e.mu.Lock()
	e.byReader[readerName] = h
	e.mu.Unlock()

	if err := h.HandleCardAuthentication(ctx); err != nil {
		e.logger.Printf("[engine] %s: card authentication failed: %v", readerName, err)
		return
	}
	if len(c.CardID) > 0 {
		key := hex.EncodeToString(c.CardID)
		e.mu.Lock()
		e.byCardID[key] = h
		e.readerOfCard[key] = readerName
		e.mu.Unlock()
	}
}

func (e *Engine) onCardAbsent(readerName string) {
	e.mu.Lock()
	h, ok := e.byReader[readerName]
	delete(e.byReader, readerName)
	if ok && h.Card != nil && len(h.Card.CardID) > 0 {
		key := hex.EncodeToString(h.Card.CardID)
		delete(e.byCardID, key)
		delete(e.readerOfCard, key)
	}
	e.mu.Unlock()

	if err := e.backend.SendNfcCardRemoved(); err != nil {
		e.logger.Printf("[engine] %s: send card-removed: %v", readerName, err)
	}
}

// probeUID reports whether the PC/SC UID pseudo-APDU succeeds against the
// freshly-presented card, the signal card.Dispatch uses to tell GenericId
// apart from Unsupported (§4.4, DESIGN.md).
func probeUID(tx card.Transceiver) bool {
	raw, err := tx.Transmit(apdu.GetUIDAPDU())
	if err != nil {
		return false
	}
	return len(apdu.StripTrailingOK(raw)) > 0
}

func (e *Engine) runInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-e.inbound.Receive():
			if !ok {
				return
			}
			e.dispatchInbound(ctx, cmd)
		}
	}
}

func (e *Engine) dispatchInbound(ctx context.Context, cmd bus.Command) {
	if cmd.Kind == bus.KindNfcReauthenticate {
		e.reauthenticateAll(ctx)
		return
	}

	h, ok := e.handlerByCardID(cmd.CardID)
	if !ok {
		// §7 Protocol / §8 scenario 4: a response for a card_id the engine
		// no longer tracks (already removed, or never identified) is
		// reported, not silently dropped.
		if err := e.backend.SendError("NFC Reader", "No nfc card found!"); err != nil {
			e.logger.Printf("[engine] send error frame: %v", err)
		}
		return
	}

	var err error
	switch cmd.Kind {
	case bus.KindNfcIdentifyResponse:
		err = h.HandleCardIdentifyResponse(ctx, cmd.CardType)
	case bus.KindNfcChallengeResponse:
		err = h.HandleCardChallengeResponse(ctx, cmd.Challenge)
	case bus.KindNfcResponseResponse:
		err = h.HandleCardResponseResponse(ctx, cmd.SessionKey)
	case bus.KindNfcRegister:
		err = h.HandleCardRegister(ctx)
	default:
		e.logger.Printf("[engine] unexpected inbound kind %q", cmd.Kind)
		return
	}
	if err != nil {
		e.logger.Printf("[engine] %s: %v", cmd.Kind, err)
	}
}

func (e *Engine) handlerByCardID(cardID []byte) (*card.Handler, bool) {
	if len(cardID) == 0 {
		return nil, false
	}
	key := hex.EncodeToString(cardID)
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.byCardID[key]
	return h, ok
}

// reauthenticateAll re-announces every currently-present card, the
// engine's interpretation of NfcReauthenticate (§4.6): the backend asked
// the terminal to restart identification for whatever is on the readers
// right now.
func (e *Engine) reauthenticateAll(ctx context.Context) {
	e.mu.Lock()
	handlers := make([]*card.Handler, 0, len(e.byReader))
	for _, h := range e.byReader {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		if err := h.HandleCardAuthentication(ctx); err != nil {
			e.logger.Printf("[engine] reauthenticate: %v", err)
		}
	}
}

func (e *Engine) runBarcode(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-e.barcodeP.Lines():
			if !ok {
				return
			}
			if err := e.backend.SendBarcodeIdentifyRequest(line); err != nil {
				e.logger.Printf("[engine] send barcode identify: %v", err)
			}
		}
	}
}
