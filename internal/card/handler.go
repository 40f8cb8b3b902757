package card

import (
	"context"
	"fmt"
	"log"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/backend"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

// Config carries the handler-family settings that don't belong on a Card:
// the GenericId reader key and the logger every handler shares.
type Config struct {
	// ReaderKey is the 32-byte AES key the GenericId family uses for its
	// terminal-side challenge/response (§4.3.c, §6).
	ReaderKey []byte
	Logger    *log.Logger
}

// Handler is the closed sum type over the four card families (§3, §9): one
// Family tag, one embedded Card, dispatched through a switch in each
// lifecycle step rather than through an open interface hierarchy.
type Handler struct {
	Family  Family
	Card    *Card
	Backend backend.Context
	Config  Config
}

// New builds a Handler for an already-dispatched Family.
func New(family Family, c *Card, be backend.Context, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Handler{Family: family, Card: c, Backend: be, Config: cfg}
}

// HandleCardAuthentication is lifecycle step 1: called on card-present. It
// computes the card's identifier and emits NfcIdentifyRequest, except for
// Unsupported cards which emit a diagnostic Error instead (§4.3.d).
func (h *Handler) HandleCardAuthentication(ctx context.Context) error {
	switch h.Family {
	case FamilyDESFire:
		return h.desfireAuthentication(ctx)
	case FamilyHCE:
		return h.hceAuthentication(ctx)
	case FamilyGenericID:
		return h.genericAuthentication(ctx)
	default:
		return h.unsupportedAuthentication(ctx)
	}
}

// HandleCardIdentifyResponse is lifecycle step 2: the backend recognized
// card_id and optionally supplied a type hint; the handler begins phase 1
// of its handshake and emits NfcChallengeRequest.
func (h *Handler) HandleCardIdentifyResponse(ctx context.Context, cardType bus.CardType) error {
	h.Card.TypeHint = cardType
	h.Family = ApplyTypeHintDowngrade(h.Family, h.Card.TypeHint)

	switch h.Family {
	case FamilyDESFire:
		return h.desfireIdentifyResponse(ctx)
	case FamilyHCE:
		return h.hceIdentifyResponse(ctx)
	case FamilyGenericID:
		return h.genericIdentifyResponse(ctx)
	default:
		return fmt.Errorf("card: unsupported family has no identify-response step")
	}
}

// HandleCardChallengeResponse is lifecycle step 3: completes phase 2, and
// on success emits NfcResponseRequest; on a verification failure it emits
// Error and nothing else (§8 property, scenario 3).
func (h *Handler) HandleCardChallengeResponse(ctx context.Context, dkRndARndBShifted []byte) error {
	switch h.Family {
	case FamilyDESFire:
		return h.desfireChallengeResponse(ctx, dkRndARndBShifted)
	case FamilyHCE:
		return h.hceChallengeResponse(ctx, dkRndARndBShifted)
	case FamilyGenericID:
		return h.genericChallengeResponse(ctx, dkRndARndBShifted)
	default:
		return fmt.Errorf("card: unsupported family has no challenge-response step")
	}
}

// HandleCardResponseResponse is lifecycle step 4: terminal. The session key
// is retained only if the family needs it for subsequent file I/O.
func (h *Handler) HandleCardResponseResponse(ctx context.Context, sessionKey []byte) error {
	switch h.Family {
	case FamilyDESFire:
		h.Card.SessionKey = append([]byte{}, sessionKey...)
	default:
		// Other families have no further on-card I/O; the session key is
		// discarded once the handshake completes.
	}
	h.Config.Logger.Printf("[card] %s: session established for card_id=%x", h.Family, h.Card.CardID)
	return nil
}

// HandleCardRegister is lifecycle step 5: the provisioning path. Only
// DESFire supports it (§4.3.a); other families reject it.
func (h *Handler) HandleCardRegister(ctx context.Context) error {
	if h.Family != FamilyDESFire {
		return h.Backend.SendError("NFC Reader", "register is only supported for DESFire cards")
	}
	return h.desfireRegister(ctx)
}
