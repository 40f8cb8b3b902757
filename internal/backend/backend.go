// Package backend implements the backend-proxy context: a thin, cheaply
// cloneable handle that card handlers use to emit outbound bus commands
// without knowing anything about the websocket relay underneath.
//
// Grounded on nedpals-davi-nfc-agent/server/websocket.go's broadcast helpers
// (BroadcastDeviceStatus, BroadcastTagData), generalized from "send this one
// concrete status" to "one named sender per outbound bus command variant"
// as §4.8 specifies, and kept a value type deliberately (per §9's note that
// the repeated-helper pattern is bookkeeping, not design) so it is passed by
// value into handlers the way the teacher's Config structs are.
package backend

import "github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"

// Context is the backend-proxy context: one async-style send method per
// outbound command kind (§4.6), forwarding into the shared bus mailbox.
// It carries no retry or batching logic and is safe to copy.
type Context struct {
	outbound *bus.Mailbox
}

// New builds a Context around the shared outbound bus mailbox.
func New(outbound *bus.Mailbox) Context {
	return Context{outbound: outbound}
}

// SendBarcodeIdentifyRequest emits BarcodeIdentifyRequest{barcode}.
func (c Context) SendBarcodeIdentifyRequest(barcode string) error {
	return c.outbound.Send(bus.Command{Kind: bus.KindBarcodeIdentifyRequest, Barcode: barcode})
}

// SendNfcIdentifyRequest emits NfcIdentifyRequest{card_id, name}.
func (c Context) SendNfcIdentifyRequest(cardID []byte, name string) error {
	return c.outbound.Send(bus.Command{Kind: bus.KindNfcIdentifyRequest, CardID: cardID, Name: name})
}

// SendNfcChallengeRequest emits NfcChallengeRequest{card_id, request}.
func (c Context) SendNfcChallengeRequest(cardID, request []byte) error {
	return c.outbound.Send(bus.Command{Kind: bus.KindNfcChallengeRequest, CardID: cardID, Request: request})
}

// SendNfcResponseRequest emits
// NfcResponseRequest{card_id, challenge, response}.
func (c Context) SendNfcResponseRequest(cardID, challenge, response []byte) error {
	return c.outbound.Send(bus.Command{
		Kind:      bus.KindNfcResponseRequest,
		CardID:    cardID,
		Challenge: challenge,
		Response:  response,
	})
}

// SendNfcCardRemoved emits NfcCardRemoved.
func (c Context) SendNfcCardRemoved() error {
	return c.outbound.Send(bus.Command{Kind: bus.KindNfcCardRemoved})
}

// SendNfcRegisterRequest emits
// NfcRegisterRequest{name, card_id, card_type, data?}.
func (c Context) SendNfcRegisterRequest(name string, cardID []byte, cardType bus.CardType, data []byte) error {
	return c.outbound.Send(bus.Command{
		Kind:         bus.KindNfcRegisterRequest,
		RegisterName: name,
		CardID:       cardID,
		CardType:     cardType,
		Data:         data,
	})
}

// SendError emits Error{source, message}.
func (c Context) SendError(source, message string) error {
	return c.outbound.Send(bus.Command{Kind: bus.KindError, Source: source, Message: message})
}
