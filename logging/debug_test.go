package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger_Filter(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "debug.log")

	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	defer logger.Close()

	t.Run("empty filter logs all", func(t *testing.T) {
		logger.SetFilter("")
		logger.Log("mc", "frame exchange ok")
		logger.Log("kafka", "producer flushed")

		content, _ := os.ReadFile(path)
		str := string(content)
		if !strings.Contains(str, "frame exchange ok") {
			t.Error("mc message missing with empty filter")
		}
		if !strings.Contains(str, "producer flushed") {
			t.Error("kafka message missing with empty filter")
		}
	})

	t.Run("filter excludes other protocols", func(t *testing.T) {
		logger.SetFilter("mc")
		logger.Log("mc", "read D100")
		logger.Log("mqtt", "publish suppressed")

		content, _ := os.ReadFile(path)
		str := string(content)
		if !strings.Contains(str, "read D100") {
			t.Error("mc message missing with mc filter")
		}
		if strings.Contains(str, "publish suppressed") {
			t.Error("mqtt message logged despite mc filter")
		}
	})

	t.Run("family name aliases to mc", func(t *testing.T) {
		logger.SetFilter("keyence")
		logger.Log("mc", "normalize DM100")

		content, _ := os.ReadFile(path)
		if !strings.Contains(string(content), "normalize DM100") {
			t.Error("keyence filter should include mc protocol")
		}
	})

	t.Run("filter is case-insensitive", func(t *testing.T) {
		logger.SetFilter("MC, Valkey")
		logger.Log("valkey", "SET ns/plc/tag")

		content, _ := os.ReadFile(path)
		if !strings.Contains(string(content), "SET ns/plc/tag") {
			t.Error("valkey message missing with mixed-case filter")
		}
	})
}

func TestDebugLogger_PacketDump(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "debug.log")

	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	defer logger.Close()

	frame := []byte{0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x0C, 0x00, 0x10, 0x00,
		0x01, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xA8, 0x0A, 0x00}
	logger.LogTX("mc", frame)

	content, _ := os.ReadFile(path)
	str := string(content)
	if !strings.Contains(str, "TX (21 bytes)") {
		t.Errorf("expected TX header, got: %s", str)
	}
	if !strings.Contains(str, "0000: 50 00 00 FF FF 03 00 0C") {
		t.Errorf("expected hex dump line, got: %s", str)
	}
}

func TestGlobalDebugLogger(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "debug.log")

	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}
	SetGlobalDebugLogger(logger)
	defer func() {
		SetGlobalDebugLogger(nil)
		logger.Close()
	}()

	DebugLog("plcman", "connected line-1")
	DebugRX("mc", []byte{0xD0, 0x00})

	content, _ := os.ReadFile(path)
	str := string(content)
	if !strings.Contains(str, "connected line-1") {
		t.Error("global DebugLog did not write")
	}
	if !strings.Contains(str, "RX (2 bytes)") {
		t.Error("global DebugRX did not write")
	}
}

func TestHexDump_Empty(t *testing.T) {
	if got := hexDump(nil); got != "    (empty)" {
		t.Errorf("hexDump(nil) = %q", got)
	}
}
