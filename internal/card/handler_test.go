package card

import (
	"context"
	"testing"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/apdu"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/backend"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/cryptoutil"
)

// fakeTransceiver answers one canned response per DESFire/ISO-7816 command
// byte (the second byte of every APDU this codebase builds), keyed by that
// byte. Tests register only the commands a given scenario needs.
type fakeTransceiver struct {
	responses map[byte][]byte
	errors    map[byte]error
}

func newFakeTransceiver() *fakeTransceiver {
	return &fakeTransceiver{responses: map[byte][]byte{}, errors: map[byte]error{}}
}

func (f *fakeTransceiver) Transmit(cmd []byte) ([]byte, error) {
	if len(cmd) < 2 {
		return nil, hexErr("command too short")
	}
	key := cmd[1]
	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return nil, hexErr("unexpected command byte")
}

type hexErr string

func (e hexErr) Error() string { return string(e) }

func newTestHandler(family Family, tx *fakeTransceiver, mailboxCap int) (*Handler, *bus.Mailbox) {
	mb := bus.NewMailbox("test-outbound", mailboxCap)
	be := backend.New(mb)
	c := NewCard([]byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80}, tx)
	h := New(family, c, be, Config{ReaderKey: make([]byte, 32)})
	return h, mb
}

func drain(t *testing.T, mb *bus.Mailbox) bus.Command {
	t.Helper()
	select {
	case cmd := <-mb.Receive():
		return cmd
	default:
		t.Fatalf("expected a command on %s but none was sent", mb.Name())
		return bus.Command{}
	}
}

func TestDESFireHappyPath(t *testing.T) {
	tx := newFakeTransceiver()
	tx.responses[apdu.DFCmdGetVersion] = []byte{apdu.StatusOperationOk, 0x04, 0x01, 0x01, 0x00}
	tx.responses[apdu.DFCmdSelectApplication] = []byte{apdu.StatusOperationOk}

	h, mb := newTestHandler(FamilyDESFire, tx, 8)

	if err := h.HandleCardAuthentication(context.Background()); err != nil {
		t.Fatalf("HandleCardAuthentication: %v", err)
	}
	identify := drain(t, mb)
	if identify.Kind != bus.KindNfcIdentifyRequest {
		t.Fatalf("got kind %v, want NfcIdentifyRequest", identify.Kind)
	}
	if identify.Name != desfireHumanName {
		t.Fatalf("got name %q, want %q", identify.Name, desfireHumanName)
	}

	ekRndB := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	tx.responses[apdu.DFCmdAuthenticateLegacy] = append([]byte{apdu.StatusAdditionalFrame}, ekRndB...)

	if err := h.HandleCardIdentifyResponse(context.Background(), bus.CardTypeAsciiMifare); err != nil {
		t.Fatalf("HandleCardIdentifyResponse: %v", err)
	}
	challenge := drain(t, mb)
	if challenge.Kind != bus.KindNfcChallengeRequest {
		t.Fatalf("got kind %v, want NfcChallengeRequest", challenge.Kind)
	}
	if string(challenge.Request) != string(ekRndB) {
		t.Fatalf("got request %x, want %x", challenge.Request, ekRndB)
	}

	ekRndAShifted := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11}
	tx.responses[apdu.DFCmdAdditionalFrame] = append([]byte{apdu.StatusOperationOk}, ekRndAShifted...)
	dkRndARndBShifted := make([]byte, 8)

	if err := h.HandleCardChallengeResponse(context.Background(), dkRndARndBShifted); err != nil {
		t.Fatalf("HandleCardChallengeResponse: %v", err)
	}
	resp := drain(t, mb)
	if resp.Kind != bus.KindNfcResponseRequest {
		t.Fatalf("got kind %v, want NfcResponseRequest", resp.Kind)
	}
	if string(resp.Response) != string(ekRndAShifted) {
		t.Fatalf("got response %x, want %x", resp.Response, ekRndAShifted)
	}
}

func TestDESFireChallengeDenied(t *testing.T) {
	tx := newFakeTransceiver()
	tx.responses[apdu.DFCmdAdditionalFrame] = []byte{apdu.StatusPermissionDenied}

	h, mb := newTestHandler(FamilyDESFire, tx, 8)
	if err := h.HandleCardChallengeResponse(context.Background(), make([]byte, 8)); err != nil {
		t.Fatalf("HandleCardChallengeResponse: %v", err)
	}
	cmd := drain(t, mb)
	if cmd.Kind != bus.KindError || cmd.Message != "Unauthorized" {
		t.Fatalf("got %+v, want Error{message=Unauthorized}", cmd)
	}
}

func TestGenericIdCorrectResponse(t *testing.T) {
	readerKey := make([]byte, 32)
	tx := newFakeTransceiver()
	h, mb := newTestHandler(FamilyGenericID, tx, 8)
	h.Config.ReaderKey = readerKey

	if err := h.genericIdentifyResponse(context.Background()); err != nil {
		t.Fatalf("genericIdentifyResponse: %v", err)
	}
	challenge := drain(t, mb)

	rndA, err := cryptoutil.RandomNonce(cryptoutil.GenericIDNonceSize)
	if err != nil {
		t.Fatalf("RandomNonce: %v", err)
	}
	plaintext := append(append([]byte{}, rndA...), cryptoutil.RotateLeft(h.Card.authNonceForTest())...)
	dkRndARndBShifted, err := cryptoutil.AESEncrypt(readerKey, plaintext)
	if err != nil {
		t.Fatalf("AESEncrypt: %v", err)
	}

	if err := h.genericChallengeResponse(context.Background(), dkRndARndBShifted); err != nil {
		t.Fatalf("genericChallengeResponse: %v", err)
	}
	resp := drain(t, mb)
	if resp.Kind != bus.KindNfcResponseRequest {
		t.Fatalf("got kind %v, want NfcResponseRequest, full=%+v challenge=%+v", resp.Kind, resp, challenge)
	}
}

func TestGenericIdWrongRndBShifted(t *testing.T) {
	readerKey := make([]byte, 32)
	tx := newFakeTransceiver()
	h, mb := newTestHandler(FamilyGenericID, tx, 8)
	h.Config.ReaderKey = readerKey

	if err := h.genericIdentifyResponse(context.Background()); err != nil {
		t.Fatalf("genericIdentifyResponse: %v", err)
	}
	drain(t, mb) // discard NfcChallengeRequest

	rndA, _ := cryptoutil.RandomNonce(cryptoutil.GenericIDNonceSize)
	wrongTrailer := make([]byte, cryptoutil.GenericIDNonceSize)
	wrongTrailer[0] = 0xFF
	plaintext := append(append([]byte{}, rndA...), wrongTrailer...)
	dkRndARndBShifted, _ := cryptoutil.AESEncrypt(readerKey, plaintext)

	if err := h.genericChallengeResponse(context.Background(), dkRndARndBShifted); err != nil {
		t.Fatalf("genericChallengeResponse: %v", err)
	}
	resp := drain(t, mb)
	if resp.Kind != bus.KindError {
		t.Fatalf("got kind %v, want Error", resp.Kind)
	}
}

func TestUnsupportedCardEmitsDiagnosticError(t *testing.T) {
	tx := newFakeTransceiver()
	tx.errors[apdu.GetUIDAPDU()[1]] = hexErr("no UID support")

	h, mb := newTestHandler(FamilyUnsupported, tx, 8)
	if err := h.HandleCardAuthentication(context.Background()); err != nil {
		t.Fatalf("HandleCardAuthentication: %v", err)
	}
	cmd := drain(t, mb)
	if cmd.Kind != bus.KindError || cmd.Message != "NFC Card type is currently not supported!" {
		t.Fatalf("got %+v", cmd)
	}
}

func (c *Card) authNonceForTest() []byte {
	return c.authNonce
}
