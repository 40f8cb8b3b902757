// Package apdu frames and parses ISO-7816 command APDUs and MIFARE DESFire
// native status words, including the multi-frame AdditionalFrame
// continuation and the HCE applet's own single-status-byte framing.
//
// Grounded on nedpals-davi-nfc-agent/nfc/apdu.go: the constant layout, the
// BuildAPDU helper, and the status-word parsing shape all follow that file's
// conventions, retargeted from MIFARE Classic/Ultralight PC/SC pseudo-APDUs
// to this system's DESFire native wrapper and HCE custom-INS framing.
package apdu

import "fmt"

// ISO-7816 command classes used by this engine.
const (
	CLAStandard = 0x00 // ISO-7816-4 SELECT and friends
	CLAPCSC     = 0xFF // PC/SC pseudo-APDU (UID read)
	CLADESFire  = 0x90 // DESFire native command wrapper
)

// PC/SC pseudo-APDU instruction used for UID reads.
const insGetUID = 0xCA

// ISO-7816 SELECT instruction, used to select the HCE applet AID.
const insSelectFile = 0xA4

// HCE custom instruction codes (§4.1).
const (
	INSHCEPhase1  = 0x10
	INSHCEPhase2  = 0x11
	INSHCEKeyWrite = 0x20
)

// AppletAID is the 7-byte application identifier the HCE applet selects on.
var AppletAID = []byte{0xF0, 0x00, 0x00, 0x00, 0xC0, 0xFF, 0xEE}

// DESFireAID is the 3-byte DESFire native application identifier for this
// system.
var DESFireAID = []byte{0xC0, 0xFF, 0xEE}

// DESFire native command codes.
const (
	DFCmdAuthenticateLegacy = 0x0A
	DFCmdAdditionalFrame    = 0xAF
	DFCmdSelectApplication  = 0x5A
	DFCmdCreateApplication  = 0xCA
	DFCmdDeleteApplication  = 0xDA
	DFCmdGetApplicationIDs  = 0x6A
	DFCmdChangeKey          = 0xC4
	DFCmdGetVersion         = 0x60
	DFCmdReadData           = 0xBD
	DFCmdWriteData          = 0x3D
	DFCmdCredit             = 0x0C
	DFCmdDebit              = 0xDC
	DFCmdCommitTransaction  = 0xC7
	DFCmdGetFileSettings    = 0xF5
)

// DESFire status bytes (§4.1).
const (
	StatusOperationOk      = 0x00
	StatusAdditionalFrame  = 0xAF
	StatusPermissionDenied = 0x9D
	StatusAuthError        = 0xAE
	StatusIntegrityError   = 0x1E
	StatusPICCIntegrity    = 0xC1
)

// GetUIDAPDU returns the PC/SC pseudo-APDU used to read a card's UID:
// FF CA 00 00 00.
func GetUIDAPDU() []byte {
	return []byte{CLAPCSC, insGetUID, 0x00, 0x00, 0x00}
}

// SelectAIDAPDU returns the ISO-7816 SELECT command for the given
// application identifier (CLA=00, INS=A4, P1=04, P2=00).
func SelectAIDAPDU(aid []byte) []byte {
	cmd := []byte{CLAStandard, insSelectFile, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	cmd = append(cmd, 0x00)
	return cmd
}

// DESFireWrap wraps a DESFire native command byte and payload in the
// CLA=90 ISO-7816 envelope the PC/SC layer expects.
func DESFireWrap(cmd byte, data []byte) []byte {
	out := []byte{CLADESFire, cmd, 0x00, 0x00, byte(len(data))}
	out = append(out, data...)
	out = append(out, 0x00)
	return out
}

// DESFireAdditionalFrame returns the APDU used to drain a pending
// AdditionalFrame continuation: command byte 0xAF with an empty payload.
func DESFireAdditionalFrame() []byte {
	return DESFireWrap(DFCmdAdditionalFrame, nil)
}

// DESFireStatus is the named state a DESFire status byte maps to.
type DESFireStatus int

const (
	// StatusOK is terminal success; no more frames follow.
	StatusOK DESFireStatus = iota
	// StatusMore indicates the AdditionalFrame continuation must be drained.
	StatusMore
	// StatusDenied maps DESFire permission/auth failures.
	StatusDenied
	// StatusBadIntegrity maps CRC/MAC failures on ciphered reads.
	StatusBadIntegrity
	// StatusUnknown is any other status byte.
	StatusUnknown
)

// Error is a structured DESFire/APDU protocol error, carrying the raw status
// byte for diagnostics.
type Error struct {
	Op     string
	Status byte
	Kind   DESFireStatus
}

func (e *Error) Error() string {
	return fmt.Sprintf("apdu: %s failed: status=%02X kind=%d", e.Op, e.Status, e.Kind)
}

// classifyStatus maps a raw DESFire status byte to a named state.
func classifyStatus(status byte) DESFireStatus {
	switch status {
	case StatusOperationOk:
		return StatusOK
	case StatusAdditionalFrame:
		return StatusMore
	case StatusPermissionDenied, StatusAuthError:
		return StatusDenied
	case StatusIntegrityError, StatusPICCIntegrity:
		return StatusBadIntegrity
	default:
		return StatusUnknown
	}
}

// StripTrailingOK removes a trailing ISO-7816 "no error" status word (90 00)
// from a card body before the DESFire status byte is parsed, per §4.1.
func StripTrailingOK(raw []byte) []byte {
	if len(raw) >= 2 && raw[len(raw)-2] == 0x90 && raw[len(raw)-1] == 0x00 {
		return raw[:len(raw)-2]
	}
	return raw
}

// ParseDESFireResponse splits a raw card reply (after ISO-7816 trailer
// stripping) into its status byte and body.
func ParseDESFireResponse(raw []byte) (status byte, body []byte, err error) {
	stripped := StripTrailingOK(raw)
	if len(stripped) < 1 {
		return 0, nil, fmt.Errorf("apdu: response too short to carry a DESFire status byte")
	}
	return stripped[0], stripped[1:], nil
}

// CheckDESFireStatus classifies a status byte and returns a non-nil *Error
// for anything other than StatusOK or StatusMore.
func CheckDESFireStatus(op string, status byte) (DESFireStatus, error) {
	kind := classifyStatus(status)
	if kind == StatusOK || kind == StatusMore {
		return kind, nil
	}
	return kind, &Error{Op: op, Status: status, Kind: kind}
}

// HCEResponse is the ISO-14443-4 applet's own framing: the first body byte
// is a success flag (0x00 = ok), the rest is the payload.
type HCEResponse struct {
	OK      bool
	Payload []byte
}

// ParseHCEResponse parses an HCE applet response whose first byte is the
// framing status (0x00 = ok).
func ParseHCEResponse(raw []byte) (HCEResponse, error) {
	stripped := StripTrailingOK(raw)
	if len(stripped) < 1 {
		return HCEResponse{}, fmt.Errorf("apdu: HCE response too short")
	}
	return HCEResponse{OK: stripped[0] == 0x00, Payload: stripped[1:]}, nil
}

// BuildHCECommand builds an HCE applet APDU using the custom INS codes
// (0x10 phase 1, 0x11 phase 2, 0x20 key write) described in §4.1.
func BuildHCECommand(ins byte, data []byte) []byte {
	cmd := []byte{CLAStandard, ins, 0x00, 0x00, byte(len(data))}
	cmd = append(cmd, data...)
	cmd = append(cmd, 0x00)
	return cmd
}

// DrainAdditionalFrames repeatedly transmits the AdditionalFrame
// continuation command via transmit until the card reports StatusOK,
// concatenating bodies in order. transmit performs one physical APDU
// exchange and returns the raw card reply.
func DrainAdditionalFrames(op string, firstBody []byte, transmit func([]byte) ([]byte, error)) ([]byte, error) {
	accum := append([]byte{}, firstBody...)
	for {
		raw, err := transmit(DESFireAdditionalFrame())
		if err != nil {
			return nil, fmt.Errorf("apdu: %s: additional frame transmit: %w", op, err)
		}
		status, body, err := ParseDESFireResponse(raw)
		if err != nil {
			return nil, fmt.Errorf("apdu: %s: %w", op, err)
		}
		kind, statusErr := CheckDESFireStatus(op, status)
		accum = append(accum, body...)
		if kind == StatusOK {
			return accum, nil
		}
		if statusErr != nil {
			return nil, statusErr
		}
		// kind == StatusMore: loop again.
	}
}
