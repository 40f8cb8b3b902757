package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/reader"
)

// selectReaderInteractive lists the PC/SC readers currently visible and,
// when more than one is present, lets the operator pick with the arrow
// keys. Grounded on barnettlynn-nfctools/keyswap/main.go's selectMenu: the
// same raw-mode-stdin, redraw-on-arrow-key shape, narrowed to a single
// linear list instead of a full key/value picker.
func selectReaderInteractive(poller reader.Poller) (string, error) {
	names, err := poller.ListReaders()
	if err != nil {
		return "", fmt.Errorf("list readers: %w", err)
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no PC/SC readers found")
	case 1:
		return names[0], nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Non-interactive invocation (a script, a service unit): fall back
		// to the first reader rather than blocking forever on a menu no
		// one can see.
		return names[0], nil
	}

	labels := make([]string, len(names))
	for i, n := range names {
		labels[i] = n
	}

	idx, err := selectMenu(fmt.Sprintf("Select a PC/SC reader (%d found):", len(names)), labels)
	if err != nil || idx < 0 {
		return names[0], err
	}
	return names[idx], nil
}

// selectMenu renders items and lets the operator move a cursor with the
// arrow keys and confirm with Enter, the same control scheme as
// keyswap/main.go's selectMenu.
func selectMenu(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("select: no items")
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return -1, fmt.Errorf("select: set raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	selected := 0
	redraw := func() {
		fmt.Printf("%s\r\n", prompt)
		for i, item := range items {
			if i == selected {
				fmt.Printf("> %s\r\n", item)
			} else {
				fmt.Printf("  %s\r\n", item)
			}
		}
	}
	redraw()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return -1, err
		}

		if n == 1 {
			switch buf[0] {
			case 0x0D, 0x0A: // Enter
				fmt.Printf("\r\n")
				return selected, nil
			case 0x03: // Ctrl-C
				fmt.Printf("\r\n")
				return -1, fmt.Errorf("select: interrupted")
			}
			continue
		}

		if n == 3 && buf[0] == 0x1B && buf[1] == '[' {
			switch buf[2] {
			case 'A': // Up
				if selected > 0 {
					selected--
				}
			case 'B': // Down
				if selected < len(items)-1 {
					selected++
				}
			}
			fmt.Printf("\033[%dA", len(items)+1) // move cursor back to the top of the menu
			redraw()
		}
	}
}

// promptReaderKey reads a 32-byte hex-encoded GenericId reader key from an
// unechoed terminal prompt, grounded on keyswap/main.go's term.MakeRaw /
// term.Restore use for interactive stdin.
func promptReaderKey() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Reader key (64 hex chars): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("prompt reader key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("reader key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("reader key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
