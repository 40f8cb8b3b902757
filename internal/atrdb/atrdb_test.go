package atrdb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	db, err := Load(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	if err != nil {
		t.Fatalf("missing smartcard_list.txt must not be fatal: %v", err)
	}
	if name, ok := db.Lookup([]byte{0x3B, 0x00}); ok {
		t.Fatalf("empty db should never match, got %q", name)
	}
}

func TestLookupExactAndWildcard(t *testing.T) {
	content := "3B 81 80 01 80 80\n\tMiFare DESFire\n" +
		"3B 8F 80 01 80 4F .. A0 00 00 03 06 03 00 01 00 00 00 00 6A\n\tGeneric card\n"
	path := filepath.Join(t.TempDir(), "smartcard_list.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	name, ok := db.Lookup([]byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80})
	if !ok || name != "MiFare DESFire" {
		t.Fatalf("exact match failed: name=%q ok=%v", name, ok)
	}

	wildcardATR := []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A}
	name, ok = db.Lookup(wildcardATR)
	if !ok || name != "Generic card" {
		t.Fatalf("wildcard match failed: name=%q ok=%v", name, ok)
	}

	if _, ok := db.Lookup([]byte{0xDE, 0xAD}); ok {
		t.Fatal("unrelated ATR must not match")
	}
}
