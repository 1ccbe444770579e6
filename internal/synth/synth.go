// Package synth renders chromosomes into raw PCM buffers.
//
// Each gene plays a fundamental plus its first two harmonics at halving
// amplitudes for one division. Rendering is a pure function of its inputs so
// repeated evaluations of the same chromosome score identically.
package synth

import (
	"encoding/binary"
	"fmt"
	"math"

	"melodist/internal/model"
)

const (
	// harmonicNorm is the peak of 1 + 0.5 + 0.25.
	harmonicNorm = 1.75

	SilenceU8  byte  = 128
	SilenceS16 int16 = 0
)

// Synthesize renders chromosome in format. The result is always exactly
// format.BufferLen() bytes; frames left over by integer truncation of the
// per-division budget are filled with silence for the bit depth.
func Synthesize(chromosome model.Chromosome, format model.AudioFormat, layout model.Layout) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFormatMismatch, err)
	}
	if layout.FrameCount != format.FrameCount || layout.SampleRate != format.SampleRate {
		return nil, fmt.Errorf("%w: layout %d frames @ %d Hz does not match format %d frames @ %d Hz",
			model.ErrFormatMismatch, layout.FrameCount, layout.SampleRate, format.FrameCount, format.SampleRate)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(chromosome) != layout.DivisionCount() {
		return nil, fmt.Errorf("%w: chromosome has %d genes, layout has %d divisions",
			model.ErrInvalidChromosomeLength, len(chromosome), layout.DivisionCount())
	}

	frameBytes := format.Channels * format.BitDepth
	out := make([]byte, format.BufferLen())
	samplesPerDivision := layout.SamplesPerDivision()
	step := layout.DivisionDuration() / float64(samplesPerDivision)

	frame := 0
	for _, gene := range chromosome {
		for s := 0; s < samplesPerDivision && frame < format.FrameCount; s++ {
			value := Sample(gene, float64(s)*step)
			offset := frame * frameBytes
			for ch := 0; ch < format.Channels; ch++ {
				putSample(out[offset+ch*format.BitDepth:], value, format.BitDepth)
			}
			frame++
		}
	}
	Pad(out[frame*frameBytes:], format.BitDepth)
	return out, nil
}

// Sample is the normalized amplitude in [-1, 1] of gene at local time t.
func Sample(gene model.Gene, t float64) float64 {
	w := 2 * math.Pi * gene.Frequency * t
	raw := math.Sin(w+gene.Phase) +
		0.5*math.Sin(2*w+gene.Phase) +
		0.25*math.Sin(3*w+gene.Phase)
	return raw / harmonicNorm
}

// Quantize8 maps a normalized amplitude onto unsigned 8-bit PCM centered at 128.
func Quantize8(normalized float64) byte {
	return byte(clamp(math.Round(127*normalized)+128, 0, 255))
}

// Quantize16 maps a normalized amplitude onto signed 16-bit PCM.
func Quantize16(normalized float64) int16 {
	return int16(clamp(math.Round(32767*normalized), math.MinInt16, math.MaxInt16))
}

// Pad fills buf with the silence value of bitDepth.
func Pad(buf []byte, bitDepth int) {
	switch bitDepth {
	case 1:
		for i := range buf {
			buf[i] = SilenceU8
		}
	default:
		for i := 0; i+1 < len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], uint16(SilenceS16))
		}
	}
}

func putSample(dst []byte, normalized float64, bitDepth int) {
	if bitDepth == 1 {
		dst[0] = Quantize8(normalized)
		return
	}
	binary.LittleEndian.PutUint16(dst, uint16(Quantize16(normalized)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
