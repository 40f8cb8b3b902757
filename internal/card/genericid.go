package card

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/cryptoutil"
)

const genericHumanName = "Generic NFC Card"

func (h *Handler) genericAuthentication(ctx context.Context) error {
	raw, err := h.Card.Tx.Transmit(apdu.GetUIDAPDU())
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to read UID: %v", err))
	}
	uid := apdu.StripTrailingOK(raw)
	h.Card.CardID = append(append([]byte{}, h.Card.ATR...), uid...)
	return h.Backend.SendNfcIdentifyRequest(h.Card.CardID, genericHumanName)
}

// genericIdentifyResponse runs the terminal side of the GenericId
// challenge: the terminal, not the card, generates and encrypts rndB, since
// these cards have no on-board crypto of their own (§4.3.c).
func (h *Handler) genericIdentifyResponse(ctx context.Context) error {
	rndB, err := cryptoutil.RandomNonce(cryptoutil.GenericIDNonceSize)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to generate challenge nonce: %v", err))
	}
	h.Card.stashNonce(rndB)
	ekRndB, err := cryptoutil.AESEncrypt(h.Config.ReaderKey, rndB)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to encrypt challenge: %v", err))
	}
	return h.Backend.SendNfcChallengeRequest(h.Card.CardID, ekRndB)
}

// genericChallengeResponse verifies the peer's response against the rndB
// this terminal generated in the previous step, then issues its own
// rotated-rndA response (§4.3.c, §8 scenario 2/3). It never touches the
// physical card: all crypto here is computed terminal-side.
func (h *Handler) genericChallengeResponse(ctx context.Context, dkRndARndBShifted []byte) error {
	plaintext, err := cryptoutil.AESDecrypt(h.Config.ReaderKey, dkRndARndBShifted)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to decrypt response: %v", err))
	}
	if len(plaintext) != 2*cryptoutil.GenericIDNonceSize {
		return h.Backend.SendError("NFC Reader", "Unauthorized")
	}
	rndA := plaintext[:cryptoutil.GenericIDNonceSize]
	rndBShifted := plaintext[cryptoutil.GenericIDNonceSize:]

	if !bytes.Equal(rndBShifted, cryptoutil.RotateLeft(h.Card.nonce())) {
		return h.Backend.SendError("NFC Reader", "Unauthorized")
	}

	rndAShifted := cryptoutil.RotateLeft(rndA)
	ekRndAShifted, err := cryptoutil.AESEncrypt(h.Config.ReaderKey, rndAShifted)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to encrypt response: %v", err))
	}
	return h.Backend.SendNfcResponseRequest(h.Card.CardID, dkRndARndBShifted, ekRndAShifted)
}
