package model

import (
	"errors"
	"testing"
)

func TestLayoutDivisionCount(t *testing.T) {
	cases := []struct {
		name   string
		layout Layout
		want   int
	}{
		{name: "one second at 240bpm", layout: Layout{FrameCount: 8000, SampleRate: 8000, BPM: 240, Divisions: 1}, want: 4},
		{name: "one second at 120bpm", layout: Layout{FrameCount: 8000, SampleRate: 8000, BPM: 120, Divisions: 1}, want: 2},
		{name: "sixteenths", layout: Layout{FrameCount: 44100 * 2, SampleRate: 44100, BPM: 120, Divisions: 4}, want: 16},
		{name: "partial division truncated", layout: Layout{FrameCount: 5999, SampleRate: 8000, BPM: 120, Divisions: 1}, want: 1},
		{name: "too short", layout: Layout{FrameCount: 100, SampleRate: 8000, BPM: 60, Divisions: 1}, want: 0},
		{name: "zero bpm", layout: Layout{FrameCount: 8000, SampleRate: 8000, BPM: 0, Divisions: 1}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.layout.DivisionCount(); got != tc.want {
				t.Fatalf("division count: got=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestLayoutValidateRejectsZeroDivisions(t *testing.T) {
	layout := Layout{FrameCount: 100, SampleRate: 8000, BPM: 60, Divisions: 1}
	err := layout.Validate()
	if !errors.Is(err, ErrInvalidChromosomeLength) {
		t.Fatalf("expected invalid chromosome length, got %v", err)
	}

	layout.BPM = 0
	if err := layout.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config for bpm=0, got %v", err)
	}
}

func TestLayoutSamplesPerDivision(t *testing.T) {
	layout := Layout{FrameCount: 8001, SampleRate: 8000, BPM: 240, Divisions: 1}
	if got := layout.SamplesPerDivision(); got != 2000 {
		t.Fatalf("samples per division: got=%d want=2000", got)
	}
	if got := layout.DivisionDuration(); got != 0.25 {
		t.Fatalf("division duration: got=%f want=0.25", got)
	}
}

func TestAudioFormatValidate(t *testing.T) {
	good := AudioFormat{SampleRate: 8000, Channels: 2, BitDepth: 2, FrameCount: 10}
	if err := good.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := good.BufferLen(); got != 40 {
		t.Fatalf("buffer len: got=%d want=40", got)
	}

	bad := []AudioFormat{
		{SampleRate: 0, Channels: 1, BitDepth: 1, FrameCount: 1},
		{SampleRate: 8000, Channels: 3, BitDepth: 1, FrameCount: 1},
		{SampleRate: 8000, Channels: 1, BitDepth: 3, FrameCount: 1},
		{SampleRate: 8000, Channels: 1, BitDepth: 1, FrameCount: 0},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Fatalf("expected error for format %d: %+v", i, f)
		}
	}
}

func TestChromosomeCloneDoesNotAlias(t *testing.T) {
	c := Chromosome{{Frequency: 440, Phase: 0.1}, {Frequency: 220, Phase: -0.2}}
	clone := c.Clone()
	if !clone.Equal(c) {
		t.Fatal("expected clone to equal original")
	}
	clone[0].Frequency = 110
	if c[0].Frequency != 440 {
		t.Fatal("clone shares backing array with original")
	}
}
