// Package card implements the four card-family handlers (DESFire, HCE,
// GenericId, Unsupported), their common five-step authentication lifecycle,
// and the ATR/type-hint dispatcher that selects among them (§3, §4.3, §4.4).
//
// Grounded on nedpals-davi-nfc-agent/nfc/tag_base.go and tag_desfire.go for
// the "one struct per card family sharing a common embedded base" shape, and
// on §9's explicit instruction to use a closed sum type (a Family tag plus
// matching) rather than open-set interface polymorphism.
package card

import "github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"

// Transceiver is the minimal capability a Handler needs from the reader
// layer: transmit one APDU, get one raw reply. The reader scanner supplies
// this from its PC/SC card handle; it is the only coupling between the card
// package and the transport.
type Transceiver interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Card is an opened handle to a physical contactless card (§3). Its ATR is
// read once on reader "present" and never mutates for the lifetime of the
// Card.
type Card struct {
	// ATR is the card's answer-to-reset, the identity of its family.
	ATR []byte

	// CardID is the cached identifier (ATR||version or ATR||UID depending on
	// family), set on first successful read.
	CardID []byte

	// TypeHint is an optional card-type hint supplied by the backend after
	// NfcIdentifyResponse; it can downgrade DESFire to GenericId (§4.4).
	TypeHint bus.CardType

	// authNonce is per-session auth scratch: the random nonce the terminal
	// generates and must recall for the next round-trip (GenericId's rndB).
	// DESFire provisioning keeps its rndA local to desfireMutualAuth.
	authNonce []byte

	// SessionKey is retained only by families that need it for subsequent
	// file I/O (DESFire MACed/Enciphered reads); most families discard it.
	SessionKey []byte

	// Tx transmits APDUs to the physical card.
	Tx Transceiver
}

// NewCard constructs a Card for a freshly "present" reader slot.
func NewCard(atr []byte, tx Transceiver) *Card {
	return &Card{ATR: append([]byte{}, atr...), Tx: tx}
}

func (c *Card) stashNonce(n []byte) {
	c.authNonce = append([]byte{}, n...)
}

func (c *Card) nonce() []byte {
	return c.authNonce
}
