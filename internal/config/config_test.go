package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvReaderKey, "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.ReaderKey) != 32 {
		t.Fatalf("expected 32-byte default reader key, got %d bytes", len(cfg.ReaderKey))
	}
	if cfg.SmartcardListPath != DefaultSmartcardListPath {
		t.Fatalf("unexpected default smartcard list path %q", cfg.SmartcardListPath)
	}
}

func TestResolveReaderKeyRejectsBadHex(t *testing.T) {
	t.Setenv(EnvReaderKey, "not-hex")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for non-hex READER_KEY")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv(EnvReaderKey, "")
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	content := "listen_addr: \"127.0.0.1:9100\"\nsimulate: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:9100" {
		t.Fatalf("overlay did not apply, got %q", cfg.ListenAddr)
	}
	if !cfg.Simulate {
		t.Fatal("expected simulate=true from overlay")
	}
}

func TestLoadFileOverlayRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	if err := os.WriteFile(path, []byte("bogus_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an unknown overlay key")
	}
}
