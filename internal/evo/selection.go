package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"melodist/internal/model"
)

// RankPopulation returns a copy of population stable-sorted by ascending
// fitness. Equal fitness keeps the original order.
func RankPopulation(population []model.ScoredChromosome) []model.ScoredChromosome {
	ranked := make([]model.ScoredChromosome, len(population))
	copy(ranked, population)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness < ranked[j].Fitness
	})
	return ranked
}

// SelectElite returns the first eliteCount chromosomes of an already ranked
// population.
func SelectElite(ranked []model.ScoredChromosome, eliteCount int) ([]model.Chromosome, error) {
	if eliteCount <= 0 || eliteCount > len(ranked) {
		return nil, fmt.Errorf("invalid elite count: %d (population %d)", eliteCount, len(ranked))
	}
	elites := make([]model.Chromosome, eliteCount)
	for i := 0; i < eliteCount; i++ {
		elites[i] = ranked[i].Chromosome
	}
	return elites, nil
}

// Selector chooses crossover partners from a ranked population.
type Selector interface {
	Name() string
	PickPartner(rng *rand.Rand, ranked []model.ScoredChromosome) (model.Chromosome, error)
}

// UniformSelector picks any member of the population with equal probability.
type UniformSelector struct{}

func (UniformSelector) Name() string {
	return "uniform"
}

func (UniformSelector) PickPartner(rng *rand.Rand, ranked []model.ScoredChromosome) (model.Chromosome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return nil, model.ErrEmptyPopulation
	}
	return ranked[rng.Intn(len(ranked))].Chromosome, nil
}

// TournamentSelector samples TournamentSize members and keeps the one with
// the lowest fitness.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickPartner(rng *rand.Rand, ranked []model.ScoredChromosome) (model.Chromosome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return nil, model.ErrEmptyPopulation
	}

	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	if size > len(ranked) {
		size = len(ranked)
	}

	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < size; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.Fitness < best.Fitness {
			best = candidate
		}
	}
	return best.Chromosome, nil
}

// SelectorFromName resolves the selector names accepted in run configuration.
func SelectorFromName(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "", "uniform":
		return UniformSelector{}, nil
	case "tournament":
		return TournamentSelector{TournamentSize: tournamentSize}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported selection strategy: %s", model.ErrInvalidConfig, name)
	}
}
