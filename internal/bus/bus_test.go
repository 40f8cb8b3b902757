package bus

import (
	"errors"
	"testing"
	"time"
)

func TestMailboxSendReceive(t *testing.T) {
	mb := NewMailbox("test", 2)
	if err := mb.Send(Command{Kind: KindNfcCardRemoved}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case cmd := <-mb.Receive():
		if cmd.Kind != KindNfcCardRemoved {
			t.Fatalf("kind = %v, want %v", cmd.Kind, KindNfcCardRemoved)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func TestMailboxFullIsFatal(t *testing.T) {
	mb := NewMailbox("test", 1)
	if err := mb.Send(Command{Kind: KindError}); err != nil {
		t.Fatalf("first send: unexpected error: %v", err)
	}
	err := mb.Send(Command{Kind: KindError})
	if err == nil {
		t.Fatal("expected fatal error on full mailbox")
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error is not *FatalError: %v", err)
	}
}

func TestRouterFansOutByDirection(t *testing.T) {
	main := NewMailbox("main", 4)
	wsOut := NewMailbox("ws-out", 4)
	nfcIn := NewMailbox("nfc-in", 4)
	r := NewRouter(main, wsOut, nfcIn)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- r.Run(stop) }()

	if err := main.Send(Command{Kind: KindNfcChallengeRequest}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := main.Send(Command{Kind: KindNfcChallengeResponse}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case cmd := <-wsOut.Receive():
		if cmd.Kind != KindNfcChallengeRequest {
			t.Fatalf("ws-out got %v, want %v", cmd.Kind, KindNfcChallengeRequest)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ws-out fan-out")
	}

	select {
	case cmd := <-nfcIn.Receive():
		if cmd.Kind != KindNfcChallengeResponse {
			t.Fatalf("nfc-in got %v, want %v", cmd.Kind, KindNfcChallengeResponse)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nfc-in fan-out")
	}

	close(stop)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for router shutdown")
	}
}
