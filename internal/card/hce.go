package card

import (
	"context"
	"fmt"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
)

const hceHumanName = "Host Card Emulation"

// hceAuthentication identifies an HCE applet card by selecting its AID. The
// selection reply itself is not inspected: HCE applets have no DESFire
// GetVersion equivalent, so ATR||AID stands in for the card_id (§4.3.b).
func (h *Handler) hceAuthentication(ctx context.Context) error {
	if _, err := h.Card.Tx.Transmit(apdu.SelectAIDAPDU(apdu.AppletAID)); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to select HCE applet: %v", err))
	}
	h.Card.CardID = append(append([]byte{}, h.Card.ATR...), apdu.AppletAID...)
	return h.Backend.SendNfcIdentifyRequest(h.Card.CardID, hceHumanName)
}

func (h *Handler) hceIdentifyResponse(ctx context.Context) error {
	ekRndB, err := hceCommand(h.Card.Tx, "hce_authenticate_phase1", apdu.INSHCEPhase1, nil)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("HCE authentication phase 1 failed: %v", err))
	}
	return h.Backend.SendNfcChallengeRequest(h.Card.CardID, ekRndB)
}

func (h *Handler) hceChallengeResponse(ctx context.Context, dkRndARndBShifted []byte) error {
	ekRndAShifted, err := hceCommand(h.Card.Tx, "hce_authenticate_phase2", apdu.INSHCEPhase2, dkRndARndBShifted)
	if err != nil {
		return h.Backend.SendError("NFC Reader", "Unauthorized")
	}
	return h.Backend.SendNfcResponseRequest(h.Card.CardID, dkRndARndBShifted, ekRndAShifted)
}
