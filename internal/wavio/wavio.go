// Package wavio moves PCM sample buffers in and out of WAV files.
package wavio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"melodist/internal/model"
)

const pcmFormat = 1

var ErrUnsupportedFormat = errors.New("unsupported wav format")

// ReadPCM loads an 8- or 16-bit PCM WAV file. Samples come back in file
// order and byte layout: unsigned bytes for 8-bit, little-endian signed pairs
// for 16-bit.
func ReadPCM(path string) ([]byte, model.AudioFormat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, model.AudioFormat{}, err
	}
	defer file.Close()

	samples, format, err := Decode(file)
	if err != nil {
		return nil, model.AudioFormat{}, fmt.Errorf("read %s: %w", path, err)
	}
	return samples, format, nil
}

func Decode(r io.ReadSeeker) ([]byte, model.AudioFormat, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, model.AudioFormat{}, fmt.Errorf("%w: not a valid wav stream", ErrUnsupportedFormat)
	}
	if decoder.WavAudioFormat != pcmFormat {
		return nil, model.AudioFormat{}, fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}
	depth := int(decoder.BitDepth) / 8
	if decoder.BitDepth%8 != 0 || (depth != 1 && depth != 2) {
		return nil, model.AudioFormat{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, model.AudioFormat{}, err
	}
	channels := int(decoder.NumChans)
	if channels != 1 && channels != 2 {
		return nil, model.AudioFormat{}, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	format := model.AudioFormat{
		SampleRate: int(decoder.SampleRate),
		Channels:   channels,
		BitDepth:   depth,
		FrameCount: len(buf.Data) / channels,
	}
	if err := format.Validate(); err != nil {
		return nil, model.AudioFormat{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return packSamples(buf.Data[:format.FrameCount*channels], depth), format, nil
}

// WritePCM writes samples as a PCM WAV file in the given format.
func WritePCM(path string, samples []byte, format model.AudioFormat) error {
	if err := checkBuffer(samples, format); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(file, samples, format); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func Encode(w io.WriteSeeker, samples []byte, format model.AudioFormat) error {
	if err := checkBuffer(samples, format); err != nil {
		return err
	}
	encoder := wav.NewEncoder(w, format.SampleRate, format.BitDepth*8, format.Channels, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           unpackSamples(samples, format.BitDepth),
		SourceBitDepth: format.BitDepth * 8,
	}
	if err := encoder.Write(buf); err != nil {
		return err
	}
	return encoder.Close()
}

func checkBuffer(samples []byte, format model.AudioFormat) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if len(samples) != format.BufferLen() {
		return fmt.Errorf("%w: %d bytes for a %d byte buffer", model.ErrFormatMismatch, len(samples), format.BufferLen())
	}
	return nil
}

func packSamples(data []int, depth int) []byte {
	out := make([]byte, len(data)*depth)
	for i, v := range data {
		if depth == 1 {
			out[i] = byte(v)
			continue
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

func unpackSamples(samples []byte, depth int) []int {
	out := make([]int, len(samples)/depth)
	for i := range out {
		if depth == 1 {
			out[i] = int(samples[i])
			continue
		}
		out[i] = int(int16(binary.LittleEndian.Uint16(samples[2*i:])))
	}
	return out
}
