package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"melodist/internal/fitness"
	"melodist/internal/genotype"
	"melodist/internal/model"
	"melodist/internal/pitch"
	"melodist/internal/synth"
)

const (
	DefaultWorkers      = 2
	DefaultEliteDivisor = 6

	MutantsPerElite    = 2
	CrossoversPerElite = 2
	SurvivorsPerElite  = 1
	// OffspringPerElite counts the elite itself plus its offspring.
	OffspringPerElite = 1 + MutantsPerElite + CrossoversPerElite + SurvivorsPerElite
)

// Evaluator scores one chromosome. It must be safe for concurrent use.
type Evaluator func(ctx context.Context, chromosome model.Chromosome) (int64, error)

type ControllerConfig struct {
	Format    model.AudioFormat
	Layout    model.Layout
	Reference []byte

	InitialPopulation int
	// Generations counts bred generations evaluated after the initial one.
	Generations  int
	MutationRate float64
	// EliteCount is derived as max(1, InitialPopulation/EliteDivisor) when zero.
	EliteCount   int
	EliteDivisor int
	Workers      int
	Seed         int64

	Selector  Selector
	Table     *pitch.Table
	Evaluator Evaluator
	Observers []Observer
	Logger    *slog.Logger
}

// Result is the Done state of a run.
type Result struct {
	Best      model.ScoredChromosome
	BestAudio []byte
	// HasBest is false only when the run was interrupted before its first
	// generation was ranked.
	HasBest              bool
	Interrupted          bool
	GenerationsCompleted int
	BestByGeneration     []int64
	Diagnostics          []model.GenerationDiagnostics
	FinalPopulation      []model.ScoredChromosome
	Evaluations          int
	EliteCount           int
}

// Controller runs the generational loop: seed, then evaluate, rank and breed
// until the generation budget is spent or the context is cancelled.
type Controller struct {
	cfg        ControllerConfig
	rng        *rand.Rand
	eliteCount int
	evaluate   Evaluator
	logger     *slog.Logger
	state      State
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfig, err)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Layout.FrameCount != cfg.Format.FrameCount || cfg.Layout.SampleRate != cfg.Format.SampleRate {
		return nil, fmt.Errorf("%w: layout does not match audio format", model.ErrFormatMismatch)
	}
	if len(cfg.Reference) != cfg.Format.BufferLen() {
		return nil, fmt.Errorf("%w: reference has %d bytes, format needs %d",
			model.ErrFormatMismatch, len(cfg.Reference), cfg.Format.BufferLen())
	}
	if cfg.InitialPopulation <= 0 {
		return nil, fmt.Errorf("%w: initial population must be > 0", model.ErrInvalidConfig)
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("%w: generations must be >= 0", model.ErrInvalidConfig)
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 || math.IsNaN(cfg.MutationRate) {
		return nil, fmt.Errorf("%w: mutation rate must be in [0, 1]", model.ErrInvalidConfig)
	}
	if cfg.EliteDivisor == 0 {
		cfg.EliteDivisor = DefaultEliteDivisor
	}
	if cfg.EliteDivisor < 0 {
		return nil, fmt.Errorf("%w: elite divisor must be > 0", model.ErrInvalidConfig)
	}
	eliteCount := cfg.EliteCount
	if eliteCount == 0 {
		eliteCount = max(1, cfg.InitialPopulation/cfg.EliteDivisor)
	}
	if eliteCount < 0 || eliteCount > cfg.InitialPopulation {
		return nil, fmt.Errorf("%w: elite count must be in [1, initial population]", model.ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Selector == nil {
		cfg.Selector = UniformSelector{}
	}
	if cfg.Table == nil {
		cfg.Table = pitch.Standard()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		eliteCount: eliteCount,
		logger:     cfg.Logger,
		state:      StateSeeding,
	}
	c.evaluate = cfg.Evaluator
	if c.evaluate == nil {
		c.evaluate = c.synthesizeAndScore
	}
	return c, nil
}

// EliteCount is the fixed number of breeding seeds per generation.
func (c *Controller) EliteCount() int {
	return c.eliteCount
}

// NextGenerationSize is the size of every bred generation.
func (c *Controller) NextGenerationSize() int {
	return c.eliteCount * OffspringPerElite
}

// Run drives the loop to completion. Cancelling ctx is not an error: the
// result then holds the last fully ranked generation and Interrupted is set.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	result := Result{
		BestByGeneration: make([]int64, 0, c.cfg.Generations+1),
		Diagnostics:      make([]model.GenerationDiagnostics, 0, c.cfg.Generations+1),
		EliteCount:       c.eliteCount,
	}
	c.state = StateSeeding
	c.notifyState(0)

	population, err := c.seed(ctx)
	if err != nil {
		if errors.Is(err, model.ErrInterrupted) {
			return c.cancel(result, 0)
		}
		return Result{}, err
	}

	var ranked []model.ScoredChromosome
	for gen := 0; gen <= c.cfg.Generations; gen++ {
		if ctx.Err() != nil {
			return c.cancel(result, gen)
		}
		if err := c.transition(StateEvaluating, gen); err != nil {
			return Result{}, err
		}
		started := time.Now()
		scored, evaluations, err := c.evaluatePopulation(ctx, population)
		result.Evaluations += evaluations
		if err != nil {
			if errors.Is(err, model.ErrInterrupted) {
				return c.cancel(result, gen)
			}
			return Result{}, err
		}

		if err := c.transition(StateRanking, gen); err != nil {
			return Result{}, err
		}
		ranked = RankPopulation(scored)
		diag := summarizeGeneration(ranked, gen, time.Since(started))
		result.FinalPopulation = ranked
		result.Best = ranked[0]
		result.HasBest = true
		result.GenerationsCompleted = gen + 1
		result.BestByGeneration = append(result.BestByGeneration, ranked[0].Fitness)
		result.Diagnostics = append(result.Diagnostics, diag)
		c.notifyGeneration(GenerationReport{
			Generation:  gen,
			Best:        ranked[0],
			Diagnostics: diag,
			Evaluations: result.Evaluations,
		})
		c.logger.Debug("generation ranked",
			"generation", gen,
			"best_fitness", diag.BestFitness,
			"population", diag.PopulationSize,
			"elapsed", diag.Elapsed)

		if gen == c.cfg.Generations {
			break
		}
		if ctx.Err() != nil {
			return c.cancel(result, gen)
		}
		if err := c.transition(StateBreeding, gen); err != nil {
			return Result{}, err
		}
		population, err = c.breed(ranked)
		if err != nil {
			return Result{}, err
		}
	}

	if err := c.transition(StateDone, c.cfg.Generations); err != nil {
		return Result{}, err
	}
	return c.finish(result)
}

func (c *Controller) seed(ctx context.Context) ([]model.Chromosome, error) {
	population := make([]model.Chromosome, 0, c.cfg.InitialPopulation)
	for i := 0; i < c.cfg.InitialPopulation; i++ {
		if ctx.Err() != nil {
			return nil, model.ErrInterrupted
		}
		chromosome, err := genotype.GenerateFromTable(c.rng, c.cfg.Table, c.cfg.Layout)
		if err != nil {
			return nil, err
		}
		population = append(population, chromosome)
	}
	if len(population) == 0 {
		return nil, model.ErrEmptyPopulation
	}
	return population, nil
}

type evaluation struct {
	idx     int
	fitness int64
}

// evaluatePopulation fans the population out over a bounded pool and waits
// for every dispatched task. Tasks run on a context detached from ctx so an
// interrupt never tears down an evaluation half way; instead dispatching
// stops and the partial generation is discarded.
func (c *Controller) evaluatePopulation(ctx context.Context, population []model.Chromosome) ([]model.ScoredChromosome, int, error) {
	if len(population) == 0 {
		return nil, 0, model.ErrEmptyPopulation
	}
	workers := min(c.cfg.Workers, len(population))
	p := pool.NewWithResults[evaluation]().
		WithMaxGoroutines(workers).
		WithContext(context.WithoutCancel(ctx)).
		WithCancelOnError().
		WithFirstError()

	var failed atomic.Bool
	dispatched := 0
	interrupted := false
	for i, chromosome := range population {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		// a systemic failure has already cancelled the pool
		if failed.Load() {
			break
		}
		p.Go(func(taskCtx context.Context) (evaluation, error) {
			if err := taskCtx.Err(); err != nil {
				return evaluation{}, err
			}
			fit, err := c.evaluate(taskCtx, chromosome)
			if err != nil {
				if isSystemic(err) {
					failed.Store(true)
					return evaluation{}, fmt.Errorf("evaluate chromosome %d: %w", i, err)
				}
				c.logger.Warn("evaluation failed; chromosome ranked last", "index", i, "error", err)
				fit = math.MaxInt64
			}
			return evaluation{idx: i, fitness: fit}, nil
		})
		dispatched++
	}

	evaluations, err := p.Wait()
	if err != nil {
		return nil, dispatched, err
	}
	if interrupted {
		return nil, dispatched, model.ErrInterrupted
	}

	scored := make([]model.ScoredChromosome, len(population))
	for _, e := range evaluations {
		scored[e.idx] = model.ScoredChromosome{Chromosome: population[e.idx], Fitness: e.fitness}
	}
	return scored, dispatched, nil
}

// isSystemic reports errors that invalidate every evaluation of the run.
func isSystemic(err error) bool {
	return errors.Is(err, model.ErrFormatMismatch) || errors.Is(err, model.ErrInvalidChromosomeLength)
}

func (c *Controller) synthesizeAndScore(ctx context.Context, chromosome model.Chromosome) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	audio, err := synth.Synthesize(chromosome, c.cfg.Format, c.cfg.Layout)
	if err != nil {
		return 0, err
	}
	return fitness.Score(audio, c.cfg.Reference, c.cfg.Format.BitDepth)
}

// breed builds the next generation from the elites of ranked: each elite is
// kept, mutated twice, crossed twice with partners from the whole ranked
// population, and accompanied by one random survivor.
func (c *Controller) breed(ranked []model.ScoredChromosome) ([]model.Chromosome, error) {
	eliteCount := min(c.eliteCount, len(ranked))
	elites, err := SelectElite(ranked, eliteCount)
	if err != nil {
		return nil, err
	}

	next := make([]model.Chromosome, 0, eliteCount*OffspringPerElite)
	for _, elite := range elites {
		next = append(next, elite.Clone())

		for i := 0; i < MutantsPerElite; i++ {
			mutant, err := Mutate(c.rng, c.cfg.Table, elite, c.cfg.MutationRate)
			if err != nil {
				return nil, err
			}
			next = append(next, mutant)
		}

		for i := 0; i < CrossoversPerElite; i++ {
			partner, err := c.cfg.Selector.PickPartner(c.rng, ranked)
			if err != nil {
				return nil, err
			}
			child, err := Crossover(c.rng, elite, partner)
			if err != nil {
				return nil, err
			}
			next = append(next, child)
		}

		for i := 0; i < SurvivorsPerElite; i++ {
			next = append(next, ranked[c.rng.Intn(len(ranked))].Chromosome.Clone())
		}
	}
	if len(next) == 0 {
		return nil, model.ErrEmptyPopulation
	}
	return next, nil
}

func (c *Controller) cancel(result Result, generation int) (Result, error) {
	_ = c.transition(StateCancelling, generation)
	c.logger.Info("run interrupted",
		"generation", generation,
		"generations_completed", result.GenerationsCompleted,
		"has_best", result.HasBest)
	result.Interrupted = true
	if err := c.transition(StateDone, generation); err != nil {
		return Result{}, err
	}
	return c.finish(result)
}

func (c *Controller) finish(result Result) (Result, error) {
	if !result.HasBest {
		return result, nil
	}
	audio, err := synth.Synthesize(result.Best.Chromosome, c.cfg.Format, c.cfg.Layout)
	if err != nil {
		return Result{}, fmt.Errorf("render best chromosome: %w", err)
	}
	result.BestAudio = audio
	return result, nil
}

func (c *Controller) transition(to State, generation int) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("invalid state transition %s -> %s", c.state, to)
	}
	c.state = to
	c.notifyState(generation)
	return nil
}

func (c *Controller) notifyState(generation int) {
	for _, o := range c.cfg.Observers {
		o.StateChanged(c.state, generation)
	}
}

func (c *Controller) notifyGeneration(report GenerationReport) {
	for _, o := range c.cfg.Observers {
		o.GenerationRanked(report)
	}
}

func summarizeGeneration(ranked []model.ScoredChromosome, generation int, elapsed time.Duration) model.GenerationDiagnostics {
	if len(ranked) == 0 {
		return model.GenerationDiagnostics{Generation: generation, Elapsed: elapsed}
	}
	total := 0.0
	for _, item := range ranked {
		total += float64(item.Fitness)
	}
	return model.GenerationDiagnostics{
		Generation:     generation,
		BestFitness:    ranked[0].Fitness,
		MeanFitness:    total / float64(len(ranked)),
		WorstFitness:   ranked[len(ranked)-1].Fitness,
		PopulationSize: len(ranked),
		Elapsed:        elapsed,
	}
}
