// Package reader implements the contactless reader scanner (§4.5): it polls
// the PC/SC reader list, tracks each reader's present/absent transitions,
// and maintains the reader-name -> live Card map. Because the PC/SC wait
// blocks an OS thread, Scanner.Run is meant to be driven from its own
// dedicated goroutine; card lookups from other goroutines go through a
// plain mutex rather than a request/reply channel, since Go's goroutines
// don't share the async-mutex-across-an-await hazard that motivates the
// channel-based alternative in §9 (see DESIGN.md).
//
// Grounded on nedpals-davi-nfc-agent/nfc/manager_pcsc.go (context
// lifecycle, ListReaders/GetStatusChange polling shape) and
// nfc/device_pcsc.go (mutex-guarded *scard.Card state, Transmit-based
// removal detection), retargeted from that package's single always-connected
// device onto this system's present/absent transition table over multiple
// concurrent readers and families.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
)

// pnpPseudoReaderName is the reserved PC/SC pseudo-reader PnP change
// notifications arrive on; it is never treated as a real card slot (§4.5
// step 5).
const pnpPseudoReaderName = `\\?PnP?\Notification`

// MaxAPDUReplyBytes is the reply buffer size PC/SC transmits are sized for
// (§6): informational here, since ebfe/scard sizes its own reply buffer
// internally.
const MaxAPDUReplyBytes = 264

// pollInterval is the PC/SC state-change wait ceiling (§4.5 step 4), chosen
// so the scanner notices newly attached readers promptly.
const pollInterval = 500 * time.Millisecond

// Poller is the minimal PC/SC capability the scanner needs, abstracted so a
// scripted stdin source can substitute for real hardware in simulation mode
// (§4.5).
type Poller interface {
	// ListReaders returns the names of readers currently known to the
	// driver.
	ListReaders() ([]string, error)
	// Wait blocks up to timeout for any reader in states to change,
	// mutating each entry's EventState in place — the same contract as
	// scard.Context.GetStatusChange.
	Wait(states []scard.ReaderState, timeout time.Duration) error
	// Connect opens an exclusive handle to a present card and returns its
	// ATR and a Transceiver.
	Connect(reader string) (card.Transceiver, []byte, error)
}

// EventKind names a Scanner event.
type EventKind int

const (
	// EventPresent fires when a reader transitions to card-present.
	EventPresent EventKind = iota
	// EventAbsent fires when a reader transitions away from card-present.
	EventAbsent
)

// Event is emitted on a reader's card present/absent transition.
type Event struct {
	Kind   EventKind
	Reader string
	Card   *card.Card // set on EventPresent; the just-removed Card on EventAbsent
}

// entry is one PC/SC reader slot the scanner tracks (§3 "reader state
// entry"): the last-known state bits and, if present, the live Card.
type entry struct {
	current scard.StateFlag
	event   scard.StateFlag
	card    *card.Card
}

// Scanner owns the reader-state table and the reader-name -> Card map
// exclusively (§3 Ownership); it is driven by a single Run call and
// publishes transitions on Events.
type Scanner struct {
	poller Poller
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]*entry

	events chan Event
}

// New builds a Scanner around a Poller (real PC/SC or simulation).
func New(poller Poller, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		poller:  poller,
		logger:  logger,
		entries: make(map[string]*entry),
		events:  make(chan Event, 8),
	}
}

// Events returns the channel the scanner publishes present/absent
// transitions on. It is closed when Run returns.
func (s *Scanner) Events() <-chan Event {
	return s.events
}

// CardByReader returns the live Card for a reader name, if any. Safe to
// call concurrently with Run.
func (s *Scanner) CardByReader(reader string) (*card.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[reader]
	if !ok || e.card == nil {
		return nil, false
	}
	return e.card, true
}

// Run executes the poll loop of §4.5 until ctx is cancelled or the poller
// reports a fatal error. It is meant to run on its own goroutine: the PC/SC
// wait blocks for up to pollInterval per iteration.
func (s *Scanner) Run(ctx context.Context) error {
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Step 1: drop entries whose last event state is UNKNOWN or IGNORE.
		s.dropStaleEntries()

		// Step 2: enumerate current readers, append any new name as UNAWARE.
		names, err := s.poller.ListReaders()
		if err != nil {
			return fmt.Errorf("reader: list readers: %w", err)
		}
		s.syncReaderList(names)

		// Step 3: sync each entry's current state to its last event state.
		states := s.buildWaitStates()
		if len(states) == 0 {
			// No readers yet; avoid a tight spin while still honoring
			// cancellation promptly.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}

		// Step 4: block on the PC/SC state-change wait.
		if err := s.poller.Wait(states, pollInterval); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return fmt.Errorf("reader: wait for state change: %w", err)
		}

		// Step 5: process present/absent transitions, skipping the PnP
		// pseudo-reader.
		s.applyStates(states)
	}
}

func (s *Scanner) dropStaleEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.entries {
		if e.event&(scard.StateUnknown|scard.StateIgnore) != 0 {
			delete(s.entries, name)
		}
	}
}

func (s *Scanner) syncReaderList(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.entries[name]; !ok {
			s.entries[name] = &entry{current: scard.StateUnaware}
		}
	}
}

func (s *Scanner) buildWaitStates() []scard.ReaderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]scard.ReaderState, 0, len(s.entries))
	for name, e := range s.entries {
		e.current = e.event
		states = append(states, scard.ReaderState{Reader: name, CurrentState: e.current})
	}
	return states
}

func (s *Scanner) applyStates(states []scard.ReaderState) {
	for _, st := range states {
		if st.Reader == pnpPseudoReaderName {
			continue
		}

		s.mu.Lock()
		e, ok := s.entries[st.Reader]
		if !ok {
			s.mu.Unlock()
			continue
		}
		e.event = st.EventState
		present := st.EventState&scard.StatePresent != 0
		hasCard := e.card != nil
		s.mu.Unlock()

		switch {
		case present && !hasCard:
			s.onPresent(st.Reader)
		case !present && hasCard:
			s.onAbsent(st.Reader)
		}
	}
}

func (s *Scanner) onPresent(reader string) {
	tx, atr, err := s.poller.Connect(reader)
	if err != nil {
		s.logger.Printf("[reader] %s: connect failed: %v", reader, err)
		return
	}
	c := card.NewCard(atr, tx)

	s.mu.Lock()
	if e, ok := s.entries[reader]; ok {
		e.card = c
	}
	s.mu.Unlock()

	s.events <- Event{Kind: EventPresent, Reader: reader, Card: c}
}

func (s *Scanner) onAbsent(reader string) {
	s.mu.Lock()
	e, ok := s.entries[reader]
	var removed *card.Card
	if ok {
		removed = e.card
		e.card = nil
	}
	s.mu.Unlock()

	s.events <- Event{Kind: EventAbsent, Reader: reader, Card: removed}
}
