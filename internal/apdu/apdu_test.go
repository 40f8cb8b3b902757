package apdu

import (
	"bytes"
	"errors"
	"testing"
)

func TestStripTrailingOK(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"with trailer", []byte{0x00, 0x01, 0x02, 0x90, 0x00}, []byte{0x00, 0x01, 0x02}},
		{"without trailer", []byte{0x00, 0x01, 0x02}, []byte{0x00, 0x01, 0x02}},
		{"too short", []byte{0x90}, []byte{0x90}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripTrailingOK(tc.in)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("got %x, want %x", got, tc.want)
			}
		})
	}
}

func TestParseDESFireResponse(t *testing.T) {
	status, body, err := ParseDESFireResponse([]byte{StatusAdditionalFrame, 0x01, 0x02, 0x90, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusAdditionalFrame {
		t.Fatalf("status = %02X, want %02X", status, StatusAdditionalFrame)
	}
	if !bytes.Equal(body, []byte{0x01, 0x02}) {
		t.Fatalf("body = %x, want 0102", body)
	}
}

func TestCheckDESFireStatusClassification(t *testing.T) {
	cases := []struct {
		status byte
		kind   DESFireStatus
		isErr  bool
	}{
		{StatusOperationOk, StatusOK, false},
		{StatusAdditionalFrame, StatusMore, false},
		{StatusPermissionDenied, StatusDenied, true},
		{StatusAuthError, StatusDenied, true},
		{StatusIntegrityError, StatusBadIntegrity, true},
		{0x7E, StatusUnknown, true},
	}
	for _, tc := range cases {
		kind, err := CheckDESFireStatus("test", tc.status)
		if kind != tc.kind {
			t.Fatalf("status %02X: kind = %v, want %v", tc.status, kind, tc.kind)
		}
		if tc.isErr && err == nil {
			t.Fatalf("status %02X: expected error, got nil", tc.status)
		}
		if !tc.isErr && err != nil {
			t.Fatalf("status %02X: unexpected error: %v", tc.status, err)
		}
		var apduErr *Error
		if tc.isErr && !errors.As(err, &apduErr) {
			t.Fatalf("status %02X: error is not *Error", tc.status)
		}
	}
}

func TestDrainAdditionalFramesConcatenates(t *testing.T) {
	responses := [][]byte{
		{StatusOperationOk, 0x05, 0x06},
	}
	i := 0
	transmit := func(cmd []byte) ([]byte, error) {
		if !bytes.Equal(cmd, DESFireAdditionalFrame()) {
			t.Fatalf("unexpected transmit payload: %x", cmd)
		}
		r := responses[i]
		i++
		return r, nil
	}
	body, err := DrainAdditionalFrames("test", []byte{0x01, 0x02}, transmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x05, 0x06}
	if !bytes.Equal(body, want) {
		t.Fatalf("got %x, want %x", body, want)
	}
}

func TestDrainAdditionalFramesMultipleContinuations(t *testing.T) {
	responses := [][]byte{
		{StatusAdditionalFrame, 0x03, 0x04},
		{StatusOperationOk, 0x05},
	}
	i := 0
	transmit := func(cmd []byte) ([]byte, error) {
		r := responses[i]
		i++
		return r, nil
	}
	body, err := DrainAdditionalFrames("test", []byte{0x01, 0x02}, transmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if !bytes.Equal(body, want) {
		t.Fatalf("got %x, want %x", body, want)
	}
}

func TestParseHCEResponse(t *testing.T) {
	resp, err := ParseHCEResponse([]byte{0x00, 0xAA, 0xBB, 0x90, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected OK response")
	}
	if !bytes.Equal(resp.Payload, []byte{0xAA, 0xBB}) {
		t.Fatalf("payload = %x, want AABB", resp.Payload)
	}
}

func TestSelectAIDAPDU(t *testing.T) {
	got := SelectAIDAPDU(AppletAID)
	want := []byte{CLAStandard, 0xA4, 0x04, 0x00, 0x07, 0xF0, 0x00, 0x00, 0x00, 0xC0, 0xFF, 0xEE, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}
