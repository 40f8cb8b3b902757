package card

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/cryptoutil"
)

const desfireHumanName = "MiFare DesFire Card"

var zeroDESFireKey = make([]byte, 16)

func (h *Handler) desfireAuthentication(ctx context.Context) error {
	version, err := desfireCommand(h.Card.Tx, "get_version", apdu.DFCmdGetVersion, nil)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to read DESFire version: %v", err))
	}
	h.Card.CardID = append(append([]byte{}, h.Card.ATR...), version...)
	return h.Backend.SendNfcIdentifyRequest(h.Card.CardID, desfireHumanName)
}

func (h *Handler) desfireIdentifyResponse(ctx context.Context) error {
	if _, err := desfireCommand(h.Card.Tx, "select_application", apdu.DFCmdSelectApplication, apdu.DESFireAID); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("failed to select application: %v", err))
	}
	ekRndB, err := desfireCommandNoDrain(h.Card.Tx, "authenticate_phase1", apdu.DFCmdAuthenticateLegacy, []byte{0x00})
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("authentication phase 1 failed: %v", err))
	}
	return h.Backend.SendNfcChallengeRequest(h.Card.CardID, ekRndB)
}

func (h *Handler) desfireChallengeResponse(ctx context.Context, dkRndARndBShifted []byte) error {
	ekRndAShifted, err := desfireCommand(h.Card.Tx, "authenticate_phase2", apdu.DFCmdAdditionalFrame, dkRndARndBShifted)
	if err != nil {
		if isDenied(err) {
			return h.Backend.SendError("NFC Reader", "Unauthorized")
		}
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("authentication phase 2 failed: %v", err))
	}
	return h.Backend.SendNfcResponseRequest(h.Card.CardID, dkRndARndBShifted, ekRndAShifted)
}

// desfireMutualAuth runs one full two-phase legacy mutual authentication
// against key #0 using a key the terminal itself holds (only true during
// provisioning of a blank card, where the key is the well-known all-zero
// default or the just-written fresh key). It returns the derived 2TDES
// session key.
func desfireMutualAuth(tx Transceiver, key []byte) ([]byte, error) {
	ekRndB, err := desfireCommandNoDrain(tx, "register_authenticate_phase1", apdu.DFCmdAuthenticateLegacy, []byte{0x00})
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	rndB, err := cryptoutil.TDESDecrypt(key, ekRndB)
	if err != nil {
		return nil, fmt.Errorf("decrypt rndB: %w", err)
	}
	rndA, err := cryptoutil.RandomNonce(cryptoutil.DESFireNonceSize)
	if err != nil {
		return nil, fmt.Errorf("generate rndA: %w", err)
	}
	plaintext := append(append([]byte{}, rndA...), cryptoutil.RotateLeft(rndB)...)
	ciphertext, err := cryptoutil.TDESEncrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt phase2 payload: %w", err)
	}
	ekRndAShifted, err := desfireCommand(tx, "register_authenticate_phase2", apdu.DFCmdAdditionalFrame, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("phase 2: %w", err)
	}
	rndAShifted, err := cryptoutil.TDESDecrypt(key, ekRndAShifted)
	if err != nil {
		return nil, fmt.Errorf("decrypt rndAShifted: %w", err)
	}
	if !bytes.Equal(rndAShifted, cryptoutil.RotateLeft(rndA)) {
		return nil, fmt.Errorf("card did not return the expected rotated rndA")
	}
	return cryptoutil.DeriveSessionKey(rndA, rndB, 16)
}

// keySettingsOpen is the application KeySettings byte used while
// provisioning is still in progress: master key changeable, master key
// settings changeable, create/delete and directory listing both still
// require the master key.
const keySettingsOpen = 0x09

// keySettingsFrozen is the KeySettings byte applied once provisioning
// completes: neither the key nor its settings can change again.
const keySettingsFrozen = 0x00

func (h *Handler) desfireRegister(ctx context.Context) error {
	tx := h.Card.Tx

	if _, err := desfireCommand(tx, "register_select_picc", apdu.DFCmdSelectApplication, []byte{0x00, 0x00, 0x00}); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: select PICC application: %v", err))
	}
	if _, err := desfireMutualAuth(tx, zeroDESFireKey); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: PICC authentication: %v", err))
	}

	// Deleting a non-existent application is tolerated: a truly blank card
	// has never created C0FFEE, and the card reports an error we ignore.
	_, _ = desfireCommand(tx, "register_delete_application", apdu.DFCmdDeleteApplication, apdu.DESFireAID)

	createPayload := append(append([]byte{}, apdu.DESFireAID...), keySettingsOpen, 0x01)
	if _, err := desfireCommand(tx, "register_create_application", apdu.DFCmdCreateApplication, createPayload); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: create application: %v", err))
	}
	if _, err := desfireCommand(tx, "register_select_new_application", apdu.DFCmdSelectApplication, apdu.DESFireAID); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: select new application: %v", err))
	}

	sessionKey, err := desfireMutualAuth(tx, zeroDESFireKey)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: application authentication: %v", err))
	}

	newKey, err := cryptoutil.RandomNonce(16)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: generate key: %v", err))
	}
	if err := desfireChangeKey(tx, sessionKey, newKey); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: change key: %v", err))
	}

	if _, err := desfireCommand(tx, "register_select_new_application_reauth", apdu.DFCmdSelectApplication, apdu.DESFireAID); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: reselect application: %v", err))
	}
	sessionKey2, err := desfireMutualAuth(tx, newKey)
	if err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: verify new key: %v", err))
	}

	if err := desfireFreezeSettings(tx, sessionKey2); err != nil {
		return h.Backend.SendError("NFC Reader", fmt.Sprintf("register: freeze settings: %v", err))
	}

	return h.Backend.SendNfcRegisterRequest(desfireHumanName, h.Card.CardID, bus.CardTypeAsciiMifare, newKey)
}

// desfireChangeKey builds and sends the ChangeKey(#0) command: the new key
// XORed against the (here, zero) old key, followed by the new key's CRC-16,
// all encrypted under the current session key. Simplified from the full
// DESFire cryptogram (which also folds in a key-version byte and an AES
// CMAC for AES-keyed applications) since this system only ever provisions
// 2TDES applications from the well-known zero key — see DESIGN.md.
func desfireChangeKey(tx Transceiver, sessionKey, newKey []byte) error {
	crc := cryptoutil.CRC16(newKey)
	payload := append(append([]byte{}, newKey...), crc[0], crc[1])
	cryptogram, err := cryptoutil.TDESEncrypt(sessionKey, payload)
	if err != nil {
		return fmt.Errorf("encrypt change-key cryptogram: %w", err)
	}
	cmdData := append([]byte{0x00}, cryptogram...)
	_, err = desfireCommand(tx, "register_change_key", apdu.DFCmdChangeKey, cmdData)
	return err
}

func desfireFreezeSettings(tx Transceiver, sessionKey []byte) error {
	payload := []byte{keySettingsFrozen}
	cryptogram, err := cryptoutil.TDESEncrypt(sessionKey, payload)
	if err != nil {
		return fmt.Errorf("encrypt key-settings cryptogram: %w", err)
	}
	_, err = desfireCommand(tx, "register_freeze_settings", apdu.DFCmdChangeKey, cryptogram)
	return err
}
