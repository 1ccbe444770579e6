package model

import (
	"fmt"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Gene is one (frequency, phase) pair rendered for a single division.
type Gene struct {
	Frequency float64 `json:"frequency"`
	Phase     float64 `json:"phase"`
}

// Chromosome holds one gene per division of the piece. Operators never modify
// a chromosome in place.
type Chromosome []Gene

// Clone returns a copy that shares no backing array with c.
func (c Chromosome) Clone() Chromosome {
	if c == nil {
		return nil
	}
	out := make(Chromosome, len(c))
	copy(out, c)
	return out
}

// Equal reports whether both chromosomes hold the same genes in order.
func (c Chromosome) Equal(other Chromosome) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// AudioFormat is fixed for a whole run and taken from the input recording.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
	FrameCount int `json:"frame_count"`
}

func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("unsupported channel count: %d", f.Channels)
	}
	if f.BitDepth != 1 && f.BitDepth != 2 {
		return fmt.Errorf("unsupported bit depth (bytes): %d", f.BitDepth)
	}
	if f.FrameCount <= 0 {
		return fmt.Errorf("frame count must be > 0")
	}
	return nil
}

// BufferLen is the exact byte length of a PCM buffer in this format.
func (f AudioFormat) BufferLen() int {
	return f.FrameCount * f.Channels * f.BitDepth
}

// Duration is the playing time of FrameCount frames.
func (f AudioFormat) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.FrameCount) / float64(f.SampleRate) * float64(time.Second))
}

// Layout places a chromosome on the time axis of a recording.
type Layout struct {
	FrameCount int `json:"frame_count"`
	SampleRate int `json:"sample_rate"`
	BPM        int `json:"bpm"`
	Divisions  int `json:"divisions"`
}

func NewLayout(format AudioFormat, bpm, divisions int) Layout {
	return Layout{
		FrameCount: format.FrameCount,
		SampleRate: format.SampleRate,
		BPM:        bpm,
		Divisions:  divisions,
	}
}

// DivisionCount is floor(total_duration / division_duration), computed in
// integers so that exact boundaries do not lose a division to rounding.
func (l Layout) DivisionCount() int {
	if l.SampleRate <= 0 || l.BPM <= 0 || l.Divisions <= 0 || l.FrameCount <= 0 {
		return 0
	}
	num := int64(l.FrameCount) * int64(l.BPM) * int64(l.Divisions)
	den := int64(l.SampleRate) * 60
	return int(num / den)
}

// DivisionDuration is the length of the smallest rhythmic unit in seconds.
func (l Layout) DivisionDuration() float64 {
	if l.BPM <= 0 || l.Divisions <= 0 {
		return 0
	}
	return 60.0 / float64(l.BPM*l.Divisions)
}

// SamplesPerDivision is the integer-truncated frame budget of one gene.
func (l Layout) SamplesPerDivision() int {
	count := l.DivisionCount()
	if count == 0 {
		return 0
	}
	return l.FrameCount / count
}

func (l Layout) Validate() error {
	if l.BPM <= 0 {
		return fmt.Errorf("%w: bpm must be > 0", ErrInvalidConfig)
	}
	if l.Divisions <= 0 {
		return fmt.Errorf("%w: divisions must be > 0", ErrInvalidConfig)
	}
	if l.DivisionCount() == 0 {
		return fmt.Errorf("%w: %d frames at %d Hz hold no division at bpm=%d divisions=%d",
			ErrInvalidChromosomeLength, l.FrameCount, l.SampleRate, l.BPM, l.Divisions)
	}
	return nil
}

// ScoredChromosome pairs a chromosome with its fitness. Lower is better.
type ScoredChromosome struct {
	Chromosome Chromosome `json:"chromosome"`
	Fitness    int64      `json:"fitness"`
}

type GenerationDiagnostics struct {
	Generation     int           `json:"generation"`
	BestFitness    int64         `json:"best_fitness"`
	MeanFitness    float64       `json:"mean_fitness"`
	WorstFitness   int64         `json:"worst_fitness"`
	PopulationSize int           `json:"population_size"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// SearchParameters are the knobs of one evolutionary run.
type SearchParameters struct {
	BPM               int     `json:"bpm"`
	Divisions         int     `json:"divisions"`
	Workers           int     `json:"workers"`
	InitialPopulation int     `json:"initial_population"`
	Generations       int     `json:"generations"`
	MutationRate      float64 `json:"mutation_rate"`
	EliteDivisor      int     `json:"elite_divisor"`
	EliteCount        int     `json:"elite_count"`
	Seed              int64   `json:"seed"`
	Selection         string  `json:"selection,omitempty"`
}

// RunRecord is the persisted summary of a finished or interrupted run.
type RunRecord struct {
	VersionedRecord
	ID               string           `json:"id"`
	CreatedAtUTC     string           `json:"created_at_utc"`
	InputPath        string           `json:"input_path"`
	OutputPath       string           `json:"output_path,omitempty"`
	MIDIPath         string           `json:"midi_path,omitempty"`
	Format           AudioFormat      `json:"format"`
	Parameters       SearchParameters `json:"parameters"`
	BestByGeneration []int64          `json:"best_by_generation"`
	Best             ScoredChromosome `json:"best"`
	Evaluations      int              `json:"evaluations"`
	Interrupted      bool             `json:"interrupted"`
}
