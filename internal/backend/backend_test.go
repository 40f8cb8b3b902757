package backend

import (
	"bytes"
	"testing"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
)

func TestContextSendHelpers(t *testing.T) {
	mb := bus.NewMailbox("outbound", 8)
	ctx := New(mb)

	cardID := []byte{0x01, 0x02}

	if err := ctx.SendNfcIdentifyRequest(cardID, "MiFare DesFire Card"); err != nil {
		t.Fatalf("SendNfcIdentifyRequest: %v", err)
	}
	cmd := <-mb.Receive()
	if cmd.Kind != bus.KindNfcIdentifyRequest || !bytes.Equal(cmd.CardID, cardID) || cmd.Name != "MiFare DesFire Card" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := ctx.SendNfcChallengeRequest(cardID, []byte{0xAA}); err != nil {
		t.Fatalf("SendNfcChallengeRequest: %v", err)
	}
	cmd = <-mb.Receive()
	if cmd.Kind != bus.KindNfcChallengeRequest || !bytes.Equal(cmd.Request, []byte{0xAA}) {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := ctx.SendNfcResponseRequest(cardID, []byte{0xBB}, []byte{0xCC}); err != nil {
		t.Fatalf("SendNfcResponseRequest: %v", err)
	}
	cmd = <-mb.Receive()
	if cmd.Kind != bus.KindNfcResponseRequest || !bytes.Equal(cmd.Challenge, []byte{0xBB}) || !bytes.Equal(cmd.Response, []byte{0xCC}) {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := ctx.SendNfcCardRemoved(); err != nil {
		t.Fatalf("SendNfcCardRemoved: %v", err)
	}
	cmd = <-mb.Receive()
	if cmd.Kind != bus.KindNfcCardRemoved {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := ctx.SendNfcRegisterRequest("MiFare DesFire Card", cardID, bus.CardTypeAsciiMifare, []byte{0xDD}); err != nil {
		t.Fatalf("SendNfcRegisterRequest: %v", err)
	}
	cmd = <-mb.Receive()
	if cmd.Kind != bus.KindNfcRegisterRequest || cmd.CardType != bus.CardTypeAsciiMifare || !bytes.Equal(cmd.Data, []byte{0xDD}) {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := ctx.SendError("NFC Reader", "NFC Card type is currently not supported!"); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	cmd = <-mb.Receive()
	if cmd.Kind != bus.KindError || cmd.Source != "NFC Reader" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestContextIsCheapToCopy(t *testing.T) {
	mb := bus.NewMailbox("outbound", 1)
	ctx := New(mb)
	clone := ctx
	if err := clone.SendNfcCardRemoved(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mb.Receive()) != 1 {
		t.Fatalf("clone did not share the underlying mailbox")
	}
}
