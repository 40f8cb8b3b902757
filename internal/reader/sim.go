package reader

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/ebfe/scard"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
)

// simReaderName is the single pseudo-reader a SimPoller exposes.
const simReaderName = "SIM"

// SimPoller substitutes a scripted stdin reader for the PC/SC layer: each
// non-empty input line toggles a simulated card present/absent on a single
// pseudo-reader (§4.5). It is used for development and testing without
// physical hardware.
type SimPoller struct {
	atr     []byte
	toggles chan struct{}
	present bool
}

// NewSimPoller starts reading lines from in on a background goroutine; any
// non-empty line is treated as a toggle request. atr is the answer-to-reset
// reported for the simulated card once present.
func NewSimPoller(in io.Reader, atr []byte) *SimPoller {
	p := &SimPoller{atr: atr, toggles: make(chan struct{}, 1)}
	go p.readLines(in)
	return p
}

func (p *SimPoller) readLines(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		select {
		case p.toggles <- struct{}{}:
		default:
			// A toggle is already pending; this line's request folds into it.
		}
	}
}

// ListReaders always reports the single simulated pseudo-reader.
func (p *SimPoller) ListReaders() ([]string, error) {
	return []string{simReaderName}, nil
}

// Wait blocks up to timeout for a toggle line, flipping the simulated
// presence bit and reflecting it into states[0].EventState.
func (p *SimPoller) Wait(states []scard.ReaderState, timeout time.Duration) error {
	select {
	case <-p.toggles:
		p.present = !p.present
	case <-time.After(timeout):
		return scard.ErrTimeout
	}
	for i := range states {
		if states[i].Reader != simReaderName {
			continue
		}
		if p.present {
			states[i].EventState = scard.StatePresent | scard.StateChanged
		} else {
			states[i].EventState = scard.StateEmpty | scard.StateChanged
		}
	}
	return nil
}

// Connect returns a no-op simulated card: its Transmit always answers with
// a bare DESFire OperationOk status, enough to exercise presence toggling
// end to end without a physical card behind it.
func (p *SimPoller) Connect(reader string) (card.Transceiver, []byte, error) {
	return simTransceiver{}, append([]byte{}, p.atr...), nil
}

// simTransceiver answers every APDU with a single success status byte.
type simTransceiver struct{}

func (simTransceiver) Transmit(apdu []byte) ([]byte, error) {
	return []byte{0x00}, nil
}
