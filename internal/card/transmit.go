package card

import (
	"errors"
	"fmt"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
)

// desfireCommand sends one DESFire native command and returns its fully
// drained body (transparently following any AdditionalFrame continuation,
// per §4.1), or the classified protocol error.
func desfireCommand(tx Transceiver, op string, cmd byte, data []byte) ([]byte, error) {
	return desfireCommandDrain(tx, op, cmd, data, true)
}

// desfireCommandNoDrain sends one DESFire native command and returns its
// body as-is, even when the status byte is StatusMore. The legacy
// authenticate phase-1 reply (AF || ek_rndB, §4.3.a, §8 scenario 1) carries
// status 0xAF as part of the challenge itself, not an invitation to drain:
// the continuation it announces is the caller's own phase-2 message, sent
// later as a separate command. Draining it here would transmit a stray
// empty AdditionalFrame and corrupt the handshake.
func desfireCommandNoDrain(tx Transceiver, op string, cmd byte, data []byte) ([]byte, error) {
	return desfireCommandDrain(tx, op, cmd, data, false)
}

func desfireCommandDrain(tx Transceiver, op string, cmd byte, data []byte, drain bool) ([]byte, error) {
	raw, err := tx.Transmit(apdu.DESFireWrap(cmd, data))
	if err != nil {
		return nil, fmt.Errorf("card: %s: transmit: %w", op, err)
	}
	status, body, err := apdu.ParseDESFireResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("card: %s: %w", op, err)
	}
	kind, statusErr := apdu.CheckDESFireStatus(op, status)
	if kind == apdu.StatusMore && drain {
		return apdu.DrainAdditionalFrames(op, body, func(c []byte) ([]byte, error) {
			return tx.Transmit(c)
		})
	}
	if statusErr != nil {
		return nil, statusErr
	}
	return body, nil
}

// hceCommand sends one HCE applet command and returns its payload, or an
// error if the applet's framing status byte signaled failure.
func hceCommand(tx Transceiver, op string, ins byte, data []byte) ([]byte, error) {
	raw, err := tx.Transmit(apdu.BuildHCECommand(ins, data))
	if err != nil {
		return nil, fmt.Errorf("card: %s: transmit: %w", op, err)
	}
	resp, err := apdu.ParseHCEResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("card: %s: %w", op, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("card: %s: applet reported failure", op)
	}
	return resp.Payload, nil
}

// isDenied reports whether err is a DESFire protocol error classified as a
// permission/auth denial (as opposed to a transport failure).
func isDenied(err error) bool {
	var apduErr *apdu.Error
	if !errors.As(err, &apduErr) {
		return false
	}
	return apduErr.Kind == apdu.StatusDenied
}
