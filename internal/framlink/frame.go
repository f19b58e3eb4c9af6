package framlink

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/opencgm/glucose.report/internal/libre"
)

// FramePrefix marks bridge lines that carry a FRAM image. Lines without it
// are bridge chatter (command echoes, scan status) and are skipped.
const FramePrefix = "FRAM "

var ErrNotFrame = errors.New("line does not carry a FRAM image")

// IsFrame reports whether the line carries a FRAM image payload.
func IsFrame(line string) bool {
	return strings.HasPrefix(line, FramePrefix)
}

// DecodeFrame extracts the FRAM image from a bridge line. The payload is the
// hex encoding of the full 344-byte image; anything else is an error.
func DecodeFrame(line string) ([]byte, error) {
	if !IsFrame(line) {
		return nil, ErrNotFrame
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, FramePrefix))
	block, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("frame payload is not valid hex: %w", err)
	}
	if len(block) != libre.BLOCK_SIZE {
		return nil, fmt.Errorf("frame payload is %d bytes, expected %d", len(block), libre.BLOCK_SIZE)
	}

	return block, nil
}

// EncodeFrame renders a FRAM image as a bridge line. Used by the mock bridge
// and tests.
func EncodeFrame(block []byte) string {
	return FramePrefix + hex.EncodeToString(block)
}
