package framlink

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/opencgm/glucose.report/internal/libre"
)

func TestDecodeFrameRoundTrip(t *testing.T) {
	block := make([]byte, libre.BLOCK_SIZE)
	for i := range block {
		block[i] = byte(i)
	}

	line := EncodeFrame(block)
	if !IsFrame(line) {
		t.Fatal("EncodeFrame output not recognised as a frame")
	}

	decoded, err := DecodeFrame(line)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if len(decoded) != libre.BLOCK_SIZE {
		t.Fatalf("Decoded %d bytes, want %d", len(decoded), libre.BLOCK_SIZE)
	}
	for i := range block {
		if decoded[i] != block[i] {
			t.Fatalf("Byte %d = %#x, want %#x", i, decoded[i], block[i])
		}
	}
}

func TestDecodeFrameRejectsChatter(t *testing.T) {
	for _, line := range []string{
		"OK",
		"SCAN started",
		"",
		"fram " + strings.Repeat("00", libre.BLOCK_SIZE),
	} {
		if _, err := DecodeFrame(line); !errors.Is(err, ErrNotFrame) {
			t.Errorf("DecodeFrame(%q) err = %v, want ErrNotFrame", line, err)
		}
	}
}

func TestDecodeFrameRejectsBadHex(t *testing.T) {
	if _, err := DecodeFrame(FramePrefix + "zz"); err == nil {
		t.Error("Expected error for non-hex payload")
	}
}

func TestDecodeFrameRejectsWrongLength(t *testing.T) {
	short := FramePrefix + hex.EncodeToString(make([]byte, 10))
	if _, err := DecodeFrame(short); err == nil {
		t.Error("Expected error for truncated payload")
	}

	long := FramePrefix + hex.EncodeToString(make([]byte, libre.BLOCK_SIZE+1))
	if _, err := DecodeFrame(long); err == nil {
		t.Error("Expected error for oversized payload")
	}
}

func TestDecodeFrameTrimsTrailingWhitespace(t *testing.T) {
	line := EncodeFrame(make([]byte, libre.BLOCK_SIZE)) + "\r"
	if _, err := DecodeFrame(line); err != nil {
		t.Errorf("DecodeFrame with trailing CR failed: %v", err)
	}
}
