// Package config resolves the terminal's startup configuration: the
// GenericId reader AES key, the diagnostic ATR database path, the barcode
// scanner device path, and the websocket relay's bind address (§6).
//
// Grounded on nedpals-davi-nfc-agent's tls/bootstrap.go, which resolves its
// own startup material (certificate paths, an optional override) from the
// environment with a compiled-in fallback rather than failing closed; the
// same posture — environment override, safe compiled default — applies to
// every field here. The optional YAML overlay file is grounded on
// barnettlynn-nfctools/reset/internal/config/config.go's
// yaml.Decoder+KnownFields(true) loading shape.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/barcode"
	"github.com/ascii-dresden/ascii-pay-nfc-terminal/internal/wsrelay"
)

// EnvReaderKey names the environment variable carrying a 32-byte hex-encoded
// override for the GenericId reader AES key (§6).
const EnvReaderKey = "READER_KEY"

// defaultReaderKeyHex is the compiled-in fallback reader key (§6): 32 bytes
// of a fixed, non-secret pattern. Any real deployment is expected to set
// $READER_KEY; this default exists only so the terminal has something to
// run with out of the box.
const defaultReaderKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// DefaultSmartcardListPath is where the diagnostic ATR database is looked
// up by default (§6, §9); its absence is never fatal.
const DefaultSmartcardListPath = "smartcard_list.txt"

// Config is the resolved set of startup knobs the terminal needs.
type Config struct {
	// ReaderKey is the 32-byte AES-256 key the GenericId family's
	// terminal-side challenge/response uses.
	ReaderKey []byte
	// SmartcardListPath points at the optional diagnostic ATR database.
	SmartcardListPath string
	// ListenAddr is the websocket relay's bind address (§4.7, §6).
	ListenAddr string
	// BarcodeDevicePath is $QR_SCANNER, or empty to fall back to stdin.
	BarcodeDevicePath string
	// Simulate runs the reader scanner against a scripted stdin toggle
	// instead of a physical PC/SC device.
	Simulate bool
}

// Load resolves Config from the process environment, applying the compiled
// defaults documented above wherever an override is absent.
func Load() (Config, error) {
	cfg := Config{
		SmartcardListPath: DefaultSmartcardListPath,
		ListenAddr:        wsrelay.ListenAddr,
		BarcodeDevicePath: os.Getenv(barcode.EnvDevicePath),
	}

	readerKey, err := resolveReaderKey()
	if err != nil {
		return Config{}, err
	}
	cfg.ReaderKey = readerKey

	return cfg, nil
}

// fileOverlay is the optional YAML config file shape (§6, §9): every field
// is optional and, when present, overrides the corresponding environment
// variable / compiled default. Unknown keys are rejected the same way
// barnettlynn-nfctools/reset's loader rejects them, to catch typos in a
// hand-edited deployment file early rather than silently ignoring them.
type fileOverlay struct {
	ReaderKeyHex      string `yaml:"reader_key"`
	SmartcardListPath string `yaml:"smartcard_list_path"`
	ListenAddr        string `yaml:"listen_addr"`
	BarcodeDevicePath string `yaml:"barcode_device_path"`
	Simulate          bool   `yaml:"simulate"`
}

// LoadFile resolves Config the same way Load does, then applies path's YAML
// overlay on top of whatever the environment already resolved. An empty
// path is equivalent to Load.
func LoadFile(path string) (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var overlay fileOverlay
	if err := dec.Decode(&overlay); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.ReaderKeyHex != "" {
		key, err := hex.DecodeString(overlay.ReaderKeyHex)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s reader_key is not valid hex: %w", path, err)
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("config: %s reader_key must decode to 32 bytes, got %d", path, len(key))
		}
		cfg.ReaderKey = key
	}
	if overlay.SmartcardListPath != "" {
		cfg.SmartcardListPath = overlay.SmartcardListPath
	}
	if overlay.ListenAddr != "" {
		cfg.ListenAddr = overlay.ListenAddr
	}
	if overlay.BarcodeDevicePath != "" {
		cfg.BarcodeDevicePath = overlay.BarcodeDevicePath
	}
	if overlay.Simulate {
		cfg.Simulate = true
	}
	return cfg, nil
}

func resolveReaderKey() ([]byte, error) {
	raw := os.Getenv(EnvReaderKey)
	if raw == "" {
		raw = defaultReaderKeyHex
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not valid hex: %w", EnvReaderKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: %s must decode to 32 bytes, got %d", EnvReaderKey, len(key))
	}
	return key, nil
}
