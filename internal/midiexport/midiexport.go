// Package midiexport renders a chromosome as a single-track Standard MIDI File.
package midiexport

import (
	"fmt"
	"io"
	"os"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"melodist/internal/model"
	"melodist/internal/pitch"
)

const (
	Resolution = smf.MetricTicks(960)
	Channel    = 0
	Velocity   = 100
)

// Build lays out one note per gene, each lasting one division. Gene
// frequencies are mapped to the nearest pitch of table.
func Build(chromosome model.Chromosome, layout model.Layout, table *pitch.Table) (*smf.SMF, error) {
	if layout.BPM <= 0 || layout.Divisions <= 0 {
		return nil, fmt.Errorf("%w: bpm and divisions must be > 0", model.ErrInvalidConfig)
	}
	if len(chromosome) == 0 {
		return nil, fmt.Errorf("%w: empty chromosome", model.ErrInvalidChromosomeLength)
	}
	if table == nil {
		table = pitch.Standard()
	}

	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName("melodist"))
	track.Add(0, smf.MetaTempo(float64(layout.BPM)))

	quarter := uint64(Resolution.Ticks4th())
	var cursor uint64
	for i, gene := range chromosome {
		key := table.Nearest(gene.Frequency).MIDIKey
		// note boundaries are rounded per gene so divisions that do not
		// split a quarter evenly do not drift.
		end := (uint64(i+1)*quarter + uint64(layout.Divisions)/2) / uint64(layout.Divisions)
		track.Add(0, midi.NoteOn(Channel, key, Velocity))
		track.Add(uint32(end-cursor), midi.NoteOff(Channel, key))
		cursor = end
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = Resolution
	if err := s.Add(track); err != nil {
		return nil, err
	}
	return s, nil
}

func Write(w io.Writer, chromosome model.Chromosome, layout model.Layout, table *pitch.Table) error {
	s, err := Build(chromosome, layout, table)
	if err != nil {
		return err
	}
	_, err = s.WriteTo(w)
	return err
}

func WriteFile(path string, chromosome model.Chromosome, layout model.Layout, table *pitch.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(file, chromosome, layout, table); err != nil {
		_ = file.Close()
		return fmt.Errorf("write midi %s: %w", path, err)
	}
	return file.Close()
}
