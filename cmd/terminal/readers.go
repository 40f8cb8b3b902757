package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/atrdb"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/config"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/reader"
)

// readersCmd lists the PC/SC readers currently visible to the terminal,
// a diagnostic companion to the daemon's own startup reader selection.
// Grounded on 1ph-sim_reader/cmd/read.go's `--list` flag and
// output/table.go's styled table rendering.
var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List PC/SC readers and, if a card is present, its diagnostic name",
	RunE:  runReaders,
}

func runReaders(cmd *cobra.Command, args []string) error {
	smartcardPath := flagSmartcardDB
	if smartcardPath == "" {
		smartcardPath = config.DefaultSmartcardListPath
	}
	db, err := atrdb.Load(smartcardPath)
	if err != nil {
		return err
	}

	poller, err := reader.NewPCSCPoller()
	if err != nil {
		return fmt.Errorf("readers: %w", err)
	}
	defer poller.Close()

	names, err := poller.ListReaders()
	if err != nil {
		return fmt.Errorf("readers: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	style := table.StyleRounded
	style.Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.SetStyle(style)
	t.AppendHeader(table.Row{"#", "Reader", "ATR", "Diagnostic name"})

	for i, name := range names {
		atrHex, diagName := "-", "-"
		if _, atr, err := poller.Connect(name); err == nil {
			atrHex = fmt.Sprintf("% X", atr)
			if n, ok := db.Lookup(atr); ok {
				diagName = n
			}
		}
		t.AppendRow(table.Row{i + 1, name, atrHex, diagName})
	}
	t.Render()
	return nil
}
