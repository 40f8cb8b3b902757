package card

import (
	"context"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
)

// unsupportedAuthentication handles a card whose ATR matched neither HCE nor
// DESFire and whose UID could not be read either. It never emits
// NfcIdentifyRequest (there is nothing to identify): it logs the ATR for
// diagnostics and reports a single Error, per §4.3.d and §8 scenario 6.
func (h *Handler) unsupportedAuthentication(ctx context.Context) error {
	if raw, err := h.Card.Tx.Transmit(apdu.GetUIDAPDU()); err == nil {
		h.Config.Logger.Printf("[card] unsupported card ATR=%x UID=%x", h.Card.ATR, apdu.StripTrailingOK(raw))
	} else {
		h.Config.Logger.Printf("[card] unsupported card ATR=%x (UID read failed: %v)", h.Card.ATR, err)
	}
	return h.Backend.SendError("NFC Reader", "NFC Card type is currently not supported!")
}
