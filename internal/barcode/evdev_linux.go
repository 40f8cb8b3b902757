//go:build linux

package barcode

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// evEventSize is the size in bytes of a Linux struct input_event on a
// 64-bit kernel: two timeval longs, a uint16 type, a uint16 code, and an
// int32 value.
const evEventSize = 24

// event type/code constants this reader cares about (linux/input-event-codes.h).
const (
	evKey        = 0x01
	keyPressed   = 1
	keyRepeated  = 2
	keyEnter     = 28
	keyLeftShift = 42
	keyRightShift = 54
)

// usKeymap maps a subset of Linux KEY_* codes to their unshifted/shifted
// US-ASCII characters, covering what a barcode scanner's keyboard-emulation
// profile actually emits: digits, letters, and the handful of punctuation
// codes commonly found in scanned payloads.
var usKeymap = map[uint16][2]byte{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	39: {';', ':'}, 40: {'\'', '"'}, 51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	57: {' ', ' '},
}

// EvdevProducer grabs a Linux input device exposing a barcode scanner's
// keyboard-emulation profile and decodes raw input_event key presses into
// completed lines (§6).
type EvdevProducer struct {
	lines chan string
	done  chan struct{}
	file  *os.File
	log   *log.Logger
}

// NewEvdevProducer opens path (typically $QR_SCANNER) and starts decoding
// key events on a background goroutine.
func NewEvdevProducer(path string, logger *log.Logger) (*EvdevProducer, error) {
	if logger == nil {
		logger = log.Default()
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("barcode: open %s: %w", path, err)
	}

	// EVIOCGRAB exclusively grabs the device so key events stop reaching
	// the console/X session while this process owns it.
	if err := grab(f); err != nil {
		logger.Printf("[barcode] %s: EVIOCGRAB failed (continuing ungrabbed): %v", path, err)
	}

	p := &EvdevProducer{
		lines: make(chan string),
		done:  make(chan struct{}),
		file:  f,
		log:   logger,
	}
	go p.run()
	return p, nil
}

func grab(f *os.File) error {
	const eviocgrab = 0x40044590 // _IOW('E', 0x90, int)
	return unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1)
}

func (p *EvdevProducer) run() {
	defer close(p.lines)
	defer p.file.Close()

	var sb strings.Builder
	shiftHeld := false
	buf := make([]byte, evEventSize)

	for {
		n, err := p.file.Read(buf)
		if err != nil || n != evEventSize {
			if err != nil {
				p.log.Printf("[barcode] read failed, stopping: %v", err)
			}
			return
		}

		evType := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if evType != evKey {
			continue
		}

		switch code {
		case keyLeftShift, keyRightShift:
			shiftHeld = value != 0
			continue
		}

		if value != keyPressed && value != keyRepeated {
			continue
		}

		if code == keyEnter {
			line := sb.String()
			sb.Reset()
			if line == "" {
				continue
			}
			select {
			case p.lines <- line:
			case <-p.done:
				return
			}
			continue
		}

		pair, ok := usKeymap[code]
		if !ok {
			continue
		}
		if shiftHeld {
			sb.WriteByte(pair[1])
		} else {
			sb.WriteByte(pair[0])
		}
	}
}

// Lines returns the completed-scan channel.
func (p *EvdevProducer) Lines() <-chan string {
	return p.lines
}

// Close signals the read loop to stop and releases the device.
func (p *EvdevProducer) Close() error {
	close(p.done)
	return p.file.Close()
}

// New opens $QR_SCANNER as an evdev keyboard-emulation device, falling back
// to stdin if the variable is unset (§6).
func New(logger *log.Logger) (Producer, error) {
	path := os.Getenv(EnvDevicePath)
	if path == "" {
		return NewStdinProducer(os.Stdin), nil
	}
	return NewEvdevProducer(path, logger)
}
