// Package wsrelay implements the websocket relay (§4.7): it accepts
// concurrent peer connections, fans outbound bus commands out to every
// peer's mailbox, and parses inbound text frames back into bus commands.
// All raw-byte wire fields are base64 text; this package is the only place
// that boundary is crossed, so card handlers and the bus itself stay in raw
// bytes throughout (§4.6).
//
// Grounded on nedpals-davi-nfc-agent/server/websocket.go's
// WebsocketMessage{Type, Payload} envelope and broadcast-to-all-clients
// shape, generalized from one concrete payload type to the full
// outbound/inbound bus.Command variant set, and on server/server.go's
// gorilla/websocket accept-and-upgrade loop.
package wsrelay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

// frame is the wire envelope every message — outbound or inbound — uses
// (§4.7): {"type": "<VariantName>", "payload": { ... }}.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func b64(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// EncodeOutbound serializes an outbound bus.Command into its JSON text
// frame, base64-encoding every raw-byte field (§4.6, §4.7).
func EncodeOutbound(cmd bus.Command) ([]byte, error) {
	var payload any

	switch cmd.Kind {
	case bus.KindBarcodeIdentifyRequest:
		payload = map[string]any{"barcode": cmd.Barcode}
	case bus.KindNfcIdentifyRequest:
		payload = map[string]any{"card_id": b64(cmd.CardID), "name": cmd.Name}
	case bus.KindNfcChallengeRequest:
		payload = map[string]any{"card_id": b64(cmd.CardID), "request": b64(cmd.Request)}
	case bus.KindNfcResponseRequest:
		payload = map[string]any{
			"card_id":   b64(cmd.CardID),
			"challenge": b64(cmd.Challenge),
			"response":  b64(cmd.Response),
		}
	case bus.KindNfcCardRemoved:
		payload = nil
	case bus.KindNfcRegisterRequest:
		p := map[string]any{
			"name":      cmd.RegisterName,
			"card_id":   b64(cmd.CardID),
			"card_type": string(cmd.CardType),
		}
		if cmd.Data != nil {
			p["data"] = b64(cmd.Data)
		}
		payload = p
	case bus.KindError:
		payload = map[string]any{"source": cmd.Source, "message": cmd.Message}
	default:
		return nil, fmt.Errorf("wsrelay: %q is not an outbound variant", cmd.Kind)
	}

	return marshalFrame(string(cmd.Kind), payload)
}

func marshalFrame(kind string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		enc, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wsrelay: encode %s payload: %w", kind, err)
		}
		raw = enc
	}
	return json.Marshal(frame{Type: kind, Payload: raw})
}

// nfcIdentifyResponsePayload, etc. mirror the inbound JSON shapes (§6).
type nfcIdentifyResponsePayload struct {
	CardID   string `json:"card_id"`
	CardType string `json:"card_type"`
}

type nfcChallengeResponsePayload struct {
	CardID    string `json:"card_id"`
	Challenge string `json:"challenge"`
}

type nfcResponseResponsePayload struct {
	CardID     string `json:"card_id"`
	SessionKey string `json:"session_key"`
}

type nfcRegisterPayload struct {
	CardID string `json:"card_id"`
}

// DecodeInbound parses one inbound text frame into its bus.Command (§4.6,
// §6). Parse errors (bad JSON, bad base64, unknown type) are returned as
// ordinary errors, wrapping the underlying JSON or base64 error where there
// is one, so the caller can surface a single Error frame to the peer
// without tearing down the whole relay (§7 Parse).
func DecodeInbound(raw []byte) (bus.Command, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return bus.Command{}, fmt.Errorf("wsrelay: malformed frame: %w", err)
	}

	switch bus.Kind(f.Type) {
	case bus.KindNfcIdentifyResponse:
		var p nfcIdentifyResponsePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: %w", f.Type, err)
		}
		cardID, err := unb64(p.CardID)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: card_id: %w", f.Type, err)
		}
		return bus.Command{Kind: bus.KindNfcIdentifyResponse, CardID: cardID, CardType: bus.CardType(p.CardType)}, nil

	case bus.KindNfcChallengeResponse:
		var p nfcChallengeResponsePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: %w", f.Type, err)
		}
		cardID, err := unb64(p.CardID)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: card_id: %w", f.Type, err)
		}
		challenge, err := unb64(p.Challenge)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: challenge: %w", f.Type, err)
		}
		return bus.Command{Kind: bus.KindNfcChallengeResponse, CardID: cardID, Challenge: challenge}, nil

	case bus.KindNfcResponseResponse:
		var p nfcResponseResponsePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: %w", f.Type, err)
		}
		cardID, err := unb64(p.CardID)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: card_id: %w", f.Type, err)
		}
		sessionKey, err := unb64(p.SessionKey)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: session_key: %w", f.Type, err)
		}
		return bus.Command{Kind: bus.KindNfcResponseResponse, CardID: cardID, SessionKey: sessionKey}, nil

	case bus.KindNfcRegister:
		var p nfcRegisterPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: %w", f.Type, err)
		}
		cardID, err := unb64(p.CardID)
		if err != nil {
			return bus.Command{}, fmt.Errorf("wsrelay: %s: card_id: %w", f.Type, err)
		}
		return bus.Command{Kind: bus.KindNfcRegister, CardID: cardID}, nil

	case bus.KindNfcReauthenticate:
		return bus.Command{Kind: bus.KindNfcReauthenticate}, nil

	default:
		return bus.Command{}, fmt.Errorf("wsrelay: unknown inbound type %q", f.Type)
	}
}
