// Package fitness scores synthesized audio against a reference recording.
package fitness

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"

	"melodist/internal/model"
)

// Score sums the absolute per-sample difference between candidate and
// reference. Samples are unsigned bytes for bitDepth 1 and signed
// little-endian 16-bit integers for bitDepth 2. Zero is an exact match.
func Score(candidate, reference []byte, bitDepth int) (int64, error) {
	if len(candidate) != len(reference) {
		return 0, fmt.Errorf("%w: candidate has %d bytes, reference has %d",
			model.ErrFormatMismatch, len(candidate), len(reference))
	}
	switch bitDepth {
	case 1:
		var total int64
		for i := range candidate {
			total += absDiff(int64(candidate[i]), int64(reference[i]))
		}
		return total, nil
	case 2:
		if len(candidate)%2 != 0 {
			return 0, fmt.Errorf("%w: %d bytes is not a whole number of 16-bit samples",
				model.ErrFormatMismatch, len(candidate))
		}
		var total int64
		for i := 0; i < len(candidate); i += 2 {
			a := int16(binary.LittleEndian.Uint16(candidate[i:]))
			b := int16(binary.LittleEndian.Uint16(reference[i:]))
			total += absDiff(int64(a), int64(b))
		}
		return total, nil
	default:
		return 0, fmt.Errorf("%w: unsupported bit depth %d", model.ErrFormatMismatch, bitDepth)
	}
}

// MaxScore is the largest score two buffers of length n can reach.
func MaxScore(n, bitDepth int) int64 {
	switch bitDepth {
	case 1:
		return int64(n) * 255
	case 2:
		return int64(n/2) * 65535
	default:
		return 0
	}
}

func absDiff[T constraints.Signed](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}
