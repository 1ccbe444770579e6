// Package pitch holds the fixed table of named musical pitches a gene may
// take. The table is built once and only read afterwards.
package pitch

import (
	"fmt"
	"math"
	"math/rand"
)

type Pitch struct {
	Name      string
	Frequency float64
	// MIDIKey is the MIDI note number, C1 = 24.
	MIDIKey uint8
}

// Table is an ordered, read-only pitch table.
type Table struct {
	pitches     []Pitch
	frequencies []float64
	byName      map[string]int
}

// A440 tuning. The values keep the literal frequencies the note detector was
// calibrated with, including the slightly off A#3, E4 and C5.
var standard = []struct {
	name string
	freq float64
}{
	{"C1", 32.7}, {"C#1", 34.65}, {"D1", 36.71}, {"D#1", 38.89}, {"E1", 41.2}, {"F1", 43.65},
	{"F#1", 46.25}, {"G1", 49.0}, {"G#1", 51.91}, {"A1", 55.0}, {"A#1", 58.27}, {"B1", 61.74},
	{"C2", 65.41}, {"C#2", 69.3}, {"D2", 73.42}, {"D#2", 77.78}, {"E2", 82.41}, {"F2", 87.31},
	{"F#2", 92.5}, {"G2", 98.0}, {"G#2", 103.83}, {"A2", 110.0}, {"A#2", 116.54}, {"B2", 123.47},
	{"C3", 130.81}, {"C#3", 138.59}, {"D3", 146.83}, {"D#3", 155.56}, {"E3", 164.81}, {"F3", 174.61},
	{"F#3", 185.0}, {"G3", 196.0}, {"G#3", 207.65}, {"A3", 220.0}, {"A#3", 223.08}, {"B3", 246.94},
	{"C4", 261.63}, {"C#4", 277.18}, {"D4", 293.66}, {"D#4", 311.13}, {"E4", 329.23}, {"F4", 349.23},
	{"F#4", 369.99}, {"G4", 392.0}, {"G#4", 415.3}, {"A4", 440.0}, {"A#4", 466.16}, {"B4", 493.88},
	{"C5", 525.25}, {"C#5", 554.37}, {"D5", 587.33}, {"D#5", 622.25}, {"E5", 659.25}, {"F5", 698.46},
	{"F#5", 739.99}, {"G5", 783.99}, {"G#5", 830.61}, {"A5", 880.0}, {"A#5", 932.33}, {"B5", 987.77},
	{"C6", 1046.5}, {"C#6", 1108.73}, {"D6", 1174.66}, {"D#6", 1244.51}, {"E6", 1318.51}, {"F6", 1396.51},
	{"F#6", 1479.98}, {"G6", 1567.98}, {"G#6", 1661.22}, {"A6", 1760.00}, {"A#6", 1864.66}, {"B6", 1975.53},
	{"C7", 2093.00}, {"C#7", 2217.46}, {"D7", 2349.32}, {"D#7", 2489.02}, {"E7", 2637.02}, {"F7", 2793.83},
	{"F#7", 2959.96}, {"G7", 3135.96}, {"G#7", 3322.44}, {"A7", 3520.00}, {"A#7", 3729.31}, {"B7", 3951.07},
}

const firstMIDIKey = 24

var defaultTable = mustBuild()

// Standard returns the shared A440 table.
func Standard() *Table {
	return defaultTable
}

func mustBuild() *Table {
	t := &Table{
		pitches:     make([]Pitch, 0, len(standard)),
		frequencies: make([]float64, 0, len(standard)),
		byName:      make(map[string]int, len(standard)),
	}
	for i, item := range standard {
		if _, dup := t.byName[item.name]; dup {
			panic(fmt.Sprintf("duplicate pitch name %s", item.name))
		}
		t.byName[item.name] = i
		t.pitches = append(t.pitches, Pitch{
			Name:      item.name,
			Frequency: item.freq,
			MIDIKey:   uint8(firstMIDIKey + i),
		})
		t.frequencies = append(t.frequencies, item.freq)
	}
	return t
}

func (t *Table) Len() int {
	return len(t.pitches)
}

// Pitches returns a copy of the table in ascending order.
func (t *Table) Pitches() []Pitch {
	return append([]Pitch(nil), t.pitches...)
}

// Frequencies returns a copy of the value set in table order.
func (t *Table) Frequencies() []float64 {
	return append([]float64(nil), t.frequencies...)
}

func (t *Table) ByName(name string) (Pitch, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Pitch{}, false
	}
	return t.pitches[idx], true
}

// Random draws a frequency uniformly from the value set.
func (t *Table) Random(rng *rand.Rand) float64 {
	return t.frequencies[rng.Intn(len(t.frequencies))]
}

// Nearest returns the pitch whose frequency is closest to freq. Ties go to the
// lower pitch.
func (t *Table) Nearest(freq float64) Pitch {
	best := 0
	bestDiff := math.Abs(t.frequencies[0] - freq)
	for i := 1; i < len(t.frequencies); i++ {
		diff := math.Abs(t.frequencies[i] - freq)
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return t.pitches[best]
}

// Contains reports whether freq is exactly one of the table's values.
func (t *Table) Contains(freq float64) bool {
	for _, f := range t.frequencies {
		if f == freq {
			return true
		}
	}
	return false
}
