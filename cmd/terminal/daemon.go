package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/atrdb"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/backend"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/barcode"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/bus"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/card"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/config"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/engine"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/reader"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/wsrelay"
)

// Bus mailbox capacities (§4.6): the main bus buffers more than either
// fan-out sink since it is the single point every producer writes through.
const (
	mainBusCapacity = 32
	sinkBoxCapacity = 4
)

// simulationATR is the DESFire ATR literal the scripted stdin simulation
// poller reports for its single pseudo-reader, so --simulate exercises the
// same dispatch path (card.Dispatch -> FamilyDESFire) a real card would.
var simulationATR = []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.LoadFile(flagConfigPath)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	applyFlagOverrides(&cfg)

	if flagPromptKey {
		key, err := promptReaderKey()
		if err != nil {
			return fmt.Errorf("terminal: %w", err)
		}
		cfg.ReaderKey = key
	}

	db, err := atrdb.Load(cfg.SmartcardListPath)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}

	poller, closePoller, err := newPoller(cfg)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	if closePoller != nil {
		defer closePoller()
	}

	if !cfg.Simulate && flagReaderName == "" {
		if name, err := selectReaderInteractive(poller); err == nil && name != "" {
			logger.Printf("[terminal] using reader: %s", name)
		}
	}

	barcodeP, err := newBarcodeProducer(cfg, logger)
	if err != nil {
		logger.Printf("[terminal] barcode scanner unavailable, continuing without it: %v", err)
		barcodeP = nil
	}

	mainBus := bus.NewMailbox("main", mainBusCapacity)
	wsOutbound := bus.NewMailbox("ws-outbound", sinkBoxCapacity)
	nfcInbound := bus.NewMailbox("nfc-inbound", sinkBoxCapacity)
	router := bus.NewRouter(mainBus, wsOutbound, nfcInbound)

	be := backend.New(mainBus)
	cardCfg := card.Config{ReaderKey: cfg.ReaderKey, Logger: logger}
	scanner := reader.New(poller, logger)
	eng := engine.New(scanner, nfcInbound, be, cardCfg, barcodeP, logger)
	eng.SetDiagnosticDB(db)
	// The relay's toBus is the main bus, not nfcInbound directly: an Error
	// command raised from a parse/transport failure (§7 Parse/Transport)
	// must reach the router so it fans out to ws-outbound and on to every
	// connected peer, not straight to the engine's inbound sink (§4.6).
	relay := wsrelay.New(mainBus, wsOutbound, cfg.ListenAddr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("[terminal] shutdown signal received")
		cancel()
	}()

	routerStop := make(chan struct{})
	routerErr := make(chan error, 1)
	go func() {
		routerErr <- router.Run(routerStop)
	}()

	scannerErr := make(chan error, 1)
	go func() {
		scannerErr <- scanner.Run(ctx)
	}()

	go eng.Run(ctx)

	relayErr := make(chan error, 1)
	go func() {
		relayErr <- relay.Run(ctx)
	}()

	// §6/§7 Fatal: a full fan-out mailbox is a control-plane defect the
	// router cannot recover from, so the process exits non-zero rather than
	// limping on with commands silently dropped.
	select {
	case <-ctx.Done():
		close(routerStop)
		<-relayErr
		logger.Printf("[terminal] clean shutdown")
		return nil
	case err := <-routerErr:
		cancel()
		if err != nil {
			return fmt.Errorf("terminal: fatal bus defect: %w", err)
		}
		return nil
	case err := <-scannerErr:
		cancel()
		close(routerStop)
		if err != nil {
			return fmt.Errorf("terminal: reader scanner stopped: %w", err)
		}
		return nil
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if flagSimulate {
		cfg.Simulate = true
	}
	if flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}
	if flagSmartcardDB != "" {
		cfg.SmartcardListPath = flagSmartcardDB
	}
}

func newPoller(cfg config.Config) (reader.Poller, func(), error) {
	if cfg.Simulate {
		return reader.NewSimPoller(os.Stdin, simulationATR), nil, nil
	}
	p, err := reader.NewPCSCPoller()
	if err != nil {
		return nil, nil, fmt.Errorf("open PC/SC context: %w", err)
	}
	return p, func() { _ = p.Close() }, nil
}

func newBarcodeProducer(cfg config.Config, logger *log.Logger) (barcode.Producer, error) {
	if cfg.BarcodeDevicePath != "" {
		// Barcode.New resolves its device path from the environment
		// itself (it must, to stay buildable on non-Linux platforms where
		// no evdev constructor exists); a config-file override is applied
		// by setting the same variable before calling it.
		_ = os.Setenv(barcode.EnvDevicePath, cfg.BarcodeDevicePath)
	}
	return barcode.New(logger)
}
