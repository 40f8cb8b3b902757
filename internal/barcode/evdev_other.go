//go:build !linux

package barcode

import (
	"log"
	"os"
)

// New reads stdin line by line on every non-Linux build (§6); evdev
// keyboard-grab is a Linux-only facility.
func New(logger *log.Logger) (Producer, error) {
	return NewStdinProducer(os.Stdin), nil
}
