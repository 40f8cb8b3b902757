package reader

import (
	"fmt"
	"time"

	"github.com/ebfe/scard"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
)

// PCSCPoller implements Poller against a real PC/SC context via
// github.com/ebfe/scard, following the context-lifecycle shape of
// nedpals-davi-nfc-agent/nfc/manager_pcsc.go's pcscManager.
type PCSCPoller struct {
	ctx *scard.Context
}

// NewPCSCPoller establishes a PC/SC context for the lifetime of the
// process.
func NewPCSCPoller() (*PCSCPoller, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("reader: establish PC/SC context: %w", err)
	}
	return &PCSCPoller{ctx: ctx}, nil
}

// Close releases the underlying PC/SC context.
func (p *PCSCPoller) Close() error {
	return p.ctx.Release()
}

// ListReaders returns the names of all readers the PC/SC subsystem
// currently reports.
func (p *PCSCPoller) ListReaders() ([]string, error) {
	readers, err := p.ctx.ListReaders()
	if err != nil {
		return nil, err
	}
	return readers, nil
}

// Wait blocks up to timeout for any reader in states to change.
func (p *PCSCPoller) Wait(states []scard.ReaderState, timeout time.Duration) error {
	return p.ctx.GetStatusChange(states, int(timeout/time.Millisecond))
}

// Connect opens an exclusive-share handle to a present card with any
// protocol (§4.5, §6) and returns its ATR alongside the *scard.Card itself,
// which already satisfies card.Transceiver's Transmit signature.
func (p *PCSCPoller) Connect(reader string) (card.Transceiver, []byte, error) {
	c, err := p.ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		return nil, nil, fmt.Errorf("reader: connect %s: %w", reader, err)
	}
	status, err := c.Status()
	if err != nil {
		c.Disconnect(scard.LeaveCard)
		return nil, nil, fmt.Errorf("reader: status %s: %w", reader, err)
	}
	return c, status.Atr, nil
}
