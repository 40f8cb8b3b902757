package card

import (
	"bytes"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

// Family tags which of the four card families a Handler implements.
type Family int

const (
	FamilyHCE Family = iota
	FamilyDESFire
	FamilyGenericID
	FamilyUnsupported
)

func (f Family) String() string {
	switch f {
	case FamilyHCE:
		return "HCE"
	case FamilyDESFire:
		return "DESFire"
	case FamilyGenericID:
		return "GenericId"
	default:
		return "Unsupported"
	}
}

// desfireATR is the historical literal ATR this system treats as DESFire
// (§4.3.a).
var desfireATR = []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80}

// hceExactATR is one of the two HCE ATR patterns (§4.3.b): an exact literal.
var hceExactATR = []byte{0x3B, 0x80, 0x80, 0x01, 0x01}

// hcePrefix and hceInfix together describe the second HCE ATR pattern:
// "3B 8F … 06 11 00 3B …" — a fixed 2-byte prefix, a wildcard gap, then a
// fixed 4-byte infix appearing later in the string.
var hcePrefix = []byte{0x3B, 0x8F}
var hceInfix = []byte{0x06, 0x11, 0x00, 0x3B}

func matchesHCE(atr []byte) bool {
	if bytes.Equal(atr, hceExactATR) {
		return true
	}
	return bytes.HasPrefix(atr, hcePrefix) && bytes.Contains(atr[len(hcePrefix):], hceInfix)
}

func matchesDESFire(atr []byte) bool {
	return bytes.Equal(atr, desfireATR)
}

// Dispatch selects the handler family for a freshly-presented card, trying
// HCE, then DESFire, then GenericId (any card whose UID can be read), and
// finally Unsupported, per §4.4's resolution order. uidReadable reports
// whether the PC/SC UID pseudo-APDU succeeded, which is how GenericId and
// Unsupported are told apart — the spec enumerates GenericId only by
// example ATRs, so "a UID came back" is this codebase's stand-in for
// "belongs to the GenericId family" (recorded as a DESIGN.md decision).
func Dispatch(atr []byte, uidReadable bool) Family {
	switch {
	case matchesHCE(atr):
		return FamilyHCE
	case matchesDESFire(atr):
		return FamilyDESFire
	case uidReadable:
		return FamilyGenericID
	default:
		return FamilyUnsupported
	}
}

// ApplyTypeHintDowngrade implements §4.4's post-identify downgrade: if the
// backend's type hint says GenericNfc but the ATR matched DESFire, the
// dispatcher downgrades this card to GenericId for the remainder of its
// presence. No other hint/family combination changes the selected family.
func ApplyTypeHintDowngrade(f Family, hint bus.CardType) Family {
	if f == FamilyDESFire && hint == bus.CardTypeGenericNfc {
		return FamilyGenericID
	}
	return f
}
