// Command terminal is the ASCII Pay NFC terminal daemon's entrypoint: it
// resolves configuration, wires the event bus, the reader scanner, the
// websocket relay, the barcode producer and the coordination engine
// together, and runs until interrupted.
//
// Grounded on nedpals-davi-nfc-agent's own main.go (flag-driven startup,
// signal-triggered shutdown) and on 1ph-sim_reader/main.go and cmd/root.go
// for the cobra-based CLI surface layered on top of it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/buildinfo"
)

var (
	flagConfigPath  string
	flagSimulate    bool
	flagListenAddr  string
	flagSmartcardDB string
	flagReaderName  string
	flagPromptKey   bool
)

var rootCmd = &cobra.Command{
	Use:     "terminal",
	Short:   "ASCII Pay NFC terminal",
	Long:    buildinfo.DisplayName + " — reads contactless cards and barcodes and relays authentication traffic to a backend over websocket.",
	Version: buildinfo.FullVersion(),
	RunE:    runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "",
		"path to an optional YAML configuration overlay")
	rootCmd.PersistentFlags().BoolVar(&flagSimulate, "simulate", false,
		"drive the reader scanner from stdin instead of a physical PC/SC device")
	rootCmd.PersistentFlags().StringVar(&flagListenAddr, "listen", "",
		"websocket relay bind address (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&flagSmartcardDB, "smartcard-list", "",
		"path to a pcsc-tools smartcard_list.txt for diagnostic ATR names")
	rootCmd.PersistentFlags().StringVarP(&flagReaderName, "reader", "r", "",
		"PC/SC reader name; if omitted and more than one is present, pick one interactively (the choice is only logged; the scanner watches every reader)")
	rootCmd.PersistentFlags().BoolVar(&flagPromptKey, "prompt-key", false,
		"read the GenericId reader AES key from an unechoed terminal prompt instead of $READER_KEY")

	rootCmd.AddCommand(readersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
