package evo

import (
	"fmt"
	"math/rand"

	"melodist/internal/genotype"
	"melodist/internal/model"
	"melodist/internal/pitch"
)

// Mutate returns a copy of chromosome where each gene independently has its
// frequency redrawn from table with probability rate and, independently, its
// phase redrawn with probability rate.
func Mutate(rng *rand.Rand, table *pitch.Table, chromosome model.Chromosome, rate float64) (model.Chromosome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("pitch table is required")
	}
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("mutation rate must be in [0, 1], got %f", rate)
	}

	out := make(model.Chromosome, len(chromosome))
	for i, gene := range chromosome {
		if rng.Float64() < rate {
			gene.Frequency = table.Random(rng)
		}
		if rng.Float64() < rate {
			phase, err := genotype.RandomPhase(rng)
			if err != nil {
				return nil, err
			}
			gene.Phase = phase
		}
		out[i] = gene
	}
	return out, nil
}

// Crossover mixes two equal-length parents gene by gene. Frequency and phase
// are inherited independently, each from either parent with equal
// probability.
func Crossover(rng *rand.Rand, a, b model.Chromosome) (model.Chromosome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: crossover parents have %d and %d genes",
			model.ErrInvalidChromosomeLength, len(a), len(b))
	}

	out := make(model.Chromosome, len(a))
	for i := range a {
		gene := a[i]
		if rng.Float64() >= 0.5 {
			gene.Frequency = b[i].Frequency
		}
		if rng.Float64() >= 0.5 {
			gene.Phase = b[i].Phase
		}
		out[i] = gene
	}
	return out, nil
}
