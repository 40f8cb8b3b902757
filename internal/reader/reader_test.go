package reader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ebfe/scard"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
)

// fakePoller is a test Poller that lets a test script a sequence of reader
// lists and presence flips without a real PC/SC context, in the style of
// nfc/device_mock.go's MockDevice.
type fakePoller struct {
	mu       sync.Mutex
	readers  []string
	present  map[string]bool
	waitOnce chan struct{}
	atr      []byte
}

func newFakePoller(readers ...string) *fakePoller {
	p := &fakePoller{
		readers:  readers,
		present:  make(map[string]bool),
		waitOnce: make(chan struct{}, 1),
		atr:      []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80},
	}
	return p
}

func (p *fakePoller) ListReaders() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.readers))
	copy(out, p.readers)
	return out, nil
}

func (p *fakePoller) setPresent(reader string, present bool) {
	p.mu.Lock()
	p.present[reader] = present
	p.mu.Unlock()
	select {
	case p.waitOnce <- struct{}{}:
	default:
	}
}

func (p *fakePoller) Wait(states []scard.ReaderState, timeout time.Duration) error {
	select {
	case <-p.waitOnce:
	case <-time.After(timeout):
		return scard.ErrTimeout
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range states {
		if p.present[states[i].Reader] {
			states[i].EventState = scard.StatePresent | scard.StateChanged
		} else {
			states[i].EventState = scard.StateEmpty | scard.StateChanged
		}
	}
	return nil
}

func (p *fakePoller) Connect(reader string) (card.Transceiver, []byte, error) {
	return simTransceiver{}, append([]byte{}, p.atr...), nil
}

func TestScannerPresentThenAbsent(t *testing.T) {
	poller := newFakePoller("Reader 1")
	s := New(poller, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	poller.setPresent("Reader 1", true)

	ev := mustRecv(t, s.Events())
	if ev.Kind != EventPresent || ev.Reader != "Reader 1" || ev.Card == nil {
		t.Fatalf("unexpected present event: %+v", ev)
	}
	if c, ok := s.CardByReader("Reader 1"); !ok || c != ev.Card {
		t.Fatalf("CardByReader did not reflect present card")
	}

	poller.setPresent("Reader 1", false)

	ev = mustRecv(t, s.Events())
	if ev.Kind != EventAbsent || ev.Reader != "Reader 1" {
		t.Fatalf("unexpected absent event: %+v", ev)
	}
	if _, ok := s.CardByReader("Reader 1"); ok {
		t.Fatalf("card should be gone from the map after absent transition")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func mustRecv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scanner event")
	}
	return Event{}
}

func TestScannerSkipsPnpPseudoReader(t *testing.T) {
	poller := newFakePoller(pnpPseudoReaderName)
	s := New(poller, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)
	poller.setPresent(pnpPseudoReaderName, true)

	select {
	case ev := <-s.Events():
		t.Fatalf("pnp pseudo-reader must never produce an event, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
