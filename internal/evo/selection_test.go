package evo

import (
	"errors"
	"math/rand"
	"testing"

	"melodist/internal/model"
)

func tagged(tag float64, fitness int64) model.ScoredChromosome {
	return model.ScoredChromosome{
		Chromosome: model.Chromosome{{Frequency: tag}},
		Fitness:    fitness,
	}
}

func TestRankPopulationIsStable(t *testing.T) {
	population := []model.ScoredChromosome{
		tagged(1, 50),
		tagged(2, 10),
		tagged(3, 50),
		tagged(4, 10),
		tagged(5, 0),
	}
	ranked := RankPopulation(population)
	want := []float64{5, 2, 4, 1, 3}
	for i, tag := range want {
		if ranked[i].Chromosome[0].Frequency != tag {
			t.Fatalf("rank %d: got tag %f want %f", i, ranked[i].Chromosome[0].Frequency, tag)
		}
	}
	if population[0].Chromosome[0].Frequency != 1 {
		t.Fatal("ranking reordered its input")
	}
}

func TestSelectElite(t *testing.T) {
	ranked := RankPopulation([]model.ScoredChromosome{tagged(1, 3), tagged(2, 1), tagged(3, 2)})
	elites, err := SelectElite(ranked, 2)
	if err != nil {
		t.Fatalf("select elite: %v", err)
	}
	if len(elites) != 2 || elites[0][0].Frequency != 2 || elites[1][0].Frequency != 3 {
		t.Fatalf("unexpected elites: %+v", elites)
	}
	for _, n := range []int{0, -1, 4} {
		if _, err := SelectElite(ranked, n); err == nil {
			t.Fatalf("expected error for elite count %d", n)
		}
	}
}

func TestUniformSelectorCoversPopulation(t *testing.T) {
	ranked := []model.ScoredChromosome{tagged(1, 0), tagged(2, 1), tagged(3, 2), tagged(4, 3)}
	rng := rand.New(rand.NewSource(42))
	seen := map[float64]int{}
	for i := 0; i < 400; i++ {
		partner, err := UniformSelector{}.PickPartner(rng, ranked)
		if err != nil {
			t.Fatalf("pick partner: %v", err)
		}
		seen[partner[0].Frequency]++
	}
	if len(seen) != len(ranked) {
		t.Fatalf("expected every member to be picked, got %v", seen)
	}
	if _, err := (UniformSelector{}).PickPartner(rng, nil); !errors.Is(err, model.ErrEmptyPopulation) {
		t.Fatalf("expected empty population error, got %v", err)
	}
}

func TestTournamentSelectorPrefersLowFitness(t *testing.T) {
	ranked := []model.ScoredChromosome{tagged(1, 0), tagged(2, 100), tagged(3, 200), tagged(4, 300)}
	rng := rand.New(rand.NewSource(11))
	selector := TournamentSelector{TournamentSize: 3}
	counts := map[float64]int{}
	for i := 0; i < 1000; i++ {
		partner, err := selector.PickPartner(rng, ranked)
		if err != nil {
			t.Fatalf("pick partner: %v", err)
		}
		counts[partner[0].Frequency]++
	}
	if counts[1] <= counts[4] {
		t.Fatalf("expected best member to win more tournaments: %v", counts)
	}
}

func TestSelectorFromName(t *testing.T) {
	for _, name := range []string{"", "uniform", "tournament"} {
		if _, err := SelectorFromName(name, 3); err != nil {
			t.Fatalf("selector %q: %v", name, err)
		}
	}
	if _, err := SelectorFromName("roulette", 0); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
