package mc

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildRequestReadWords(t *testing.T) {
	frame := buildRequest(request{
		command:    cmdBatchRead,
		subcommand: subcmdWord,
		deviceCode: 0xA8,
		offset:     0,
		count:      10,
	})

	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x0C, 0x00, 0x10, 0x00,
		0x01, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xA8, 0x0A, 0x00,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame mismatch\n got  % X\n want % X", frame, want)
	}
}

func TestBuildRequestReadWordsOffset(t *testing.T) {
	frame := buildRequest(request{
		command:    cmdBatchRead,
		subcommand: subcmdWord,
		deviceCode: 0xA8,
		offset:     1002,
		count:      2,
	})

	// 1002 = 0x0003EA, little-endian 3-byte head device number.
	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x0C, 0x00, 0x10, 0x00,
		0x01, 0x04, 0x00, 0x00, 0xEA, 0x03, 0x00, 0xA8, 0x02, 0x00,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame mismatch\n got  % X\n want % X", frame, want)
	}
}

func TestBuildRequestWriteWords(t *testing.T) {
	frame := buildRequest(request{
		command:    cmdBatchWrite,
		subcommand: subcmdWord,
		deviceCode: 0xA8,
		offset:     0,
		count:      2,
		payload:    []byte{1, 2, 3, 4},
	})

	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x10, 0x00, 0x10, 0x00,
		0x01, 0x14, 0x00, 0x00, 0x00, 0x00, 0x00, 0xA8, 0x02, 0x00,
		1, 2, 3, 4,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame mismatch\n got  % X\n want % X", frame, want)
	}
}

func TestBuildRequestReadBits(t *testing.T) {
	frame := buildRequest(request{
		command:    cmdBatchRead,
		subcommand: subcmdBit,
		deviceCode: 0x90,
		offset:     0,
		count:      8,
	})

	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x0C, 0x00, 0x10, 0x00,
		0x01, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x90, 0x08, 0x00,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame mismatch\n got  % X\n want % X", frame, want)
	}
}

func TestBuildRequestWriteBits(t *testing.T) {
	frame := buildRequest(request{
		command:    cmdBatchWrite,
		subcommand: subcmdBit,
		deviceCode: 0x90,
		offset:     0,
		count:      4,
		payload:    PackBits([]bool{true, false, true, false}),
	})

	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x0E, 0x00, 0x10, 0x00,
		0x01, 0x14, 0x01, 0x00, 0x00, 0x00, 0x00, 0x90, 0x04, 0x00,
		0x10, 0x10,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame mismatch\n got  % X\n want % X", frame, want)
	}
}

func TestParseResponse(t *testing.T) {
	// Two data words after a zero completion code.
	frame := []byte{
		0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x06, 0x00,
		0x00, 0x00,
		0x2A, 0x00, 0x01, 0x00,
	}
	payload, err := parseResponse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x2A, 0x00, 0x01, 0x00}) {
		t.Errorf("payload: got % X", payload)
	}

	words := BytesToWords(payload)
	if words[0] != 42 || words[1] != 1 {
		t.Errorf("words: got %v, want [42 1]", words)
	}
}

func TestParseResponseCompletionCode(t *testing.T) {
	frame := []byte{
		0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x02, 0x00,
		0x31, 0x40,
	}
	_, err := parseResponse(frame)
	var plcErr PLCError
	if !errors.As(err, &plcErr) {
		t.Fatalf("expected PLCError, got %v", err)
	}
	if plcErr.Code != 0x4031 {
		t.Errorf("code: got 0x%04X, want 0x4031", plcErr.Code)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"truncated header", []byte{0xD0, 0x00, 0x00}},
		{"bad subheader", []byte{
			0x51, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00,
		}},
		{"length mismatch", []byte{
			0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x08, 0x00, 0x00, 0x00, 0x01,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse(tt.frame)
			var fe FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FrameError, got %v", err)
			}
		})
	}
}
