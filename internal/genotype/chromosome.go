package genotype

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"melodist/internal/model"
	"melodist/internal/pitch"
)

var ErrNilRandomSource = errors.New("random source is required")

// Generate builds a random chromosome with one gene per division of layout.
// Frequencies are drawn uniformly from the standard pitch table and phases
// uniformly from (-π, π].
func Generate(rng *rand.Rand, layout model.Layout) (model.Chromosome, error) {
	return GenerateFromTable(rng, pitch.Standard(), layout)
}

func GenerateFromTable(rng *rand.Rand, table *pitch.Table, layout model.Layout) (model.Chromosome, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("pitch table is required")
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, ErrNilRandomSource
	}

	count := layout.DivisionCount()
	chromosome := make(model.Chromosome, count)
	for i := range chromosome {
		chromosome[i] = model.Gene{
			Frequency: table.Random(rng),
			Phase:     phase(rng),
		}
	}
	return chromosome, nil
}

// RandomPhase maps [0, 1) onto (-π, π].
func RandomPhase(rng *rand.Rand) (float64, error) {
	if rng == nil {
		return 0, ErrNilRandomSource
	}
	return phase(rng), nil
}

func phase(rng *rand.Rand) float64 {
	return math.Pi - 2*math.Pi*rng.Float64()
}

// ValidateChromosome checks a chromosome against its layout.
func ValidateChromosome(chromosome model.Chromosome, layout model.Layout) error {
	want := layout.DivisionCount()
	if len(chromosome) != want {
		return fmt.Errorf("%w: got=%d want=%d", model.ErrInvalidChromosomeLength, len(chromosome), want)
	}
	for i, gene := range chromosome {
		if !(gene.Frequency > 0) || math.IsInf(gene.Frequency, 0) {
			return fmt.Errorf("gene %d: frequency must be > 0, got %f", i, gene.Frequency)
		}
		if math.IsNaN(gene.Phase) || math.IsInf(gene.Phase, 0) {
			return fmt.Errorf("gene %d: phase must be finite", i)
		}
	}
	return nil
}
