package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"melodist/internal/fitness"
	"melodist/internal/genotype"
	"melodist/internal/model"
	"melodist/internal/synth"
)

var knownChromosome = model.Chromosome{
	{Frequency: 261.63, Phase: 0.5},
	{Frequency: 329.23, Phase: -1.2},
	{Frequency: 392.0, Phase: 2.0},
	{Frequency: 523.25, Phase: 0},
}

func referenceFixture(t *testing.T) (model.AudioFormat, model.Layout, []byte) {
	t.Helper()
	format := model.AudioFormat{SampleRate: 8000, Channels: 1, BitDepth: 1, FrameCount: 8000}
	layout := model.NewLayout(format, 240, 1)
	if layout.DivisionCount() != len(knownChromosome) {
		t.Fatalf("fixture layout holds %d divisions", layout.DivisionCount())
	}
	reference, err := synth.Synthesize(knownChromosome, format, layout)
	if err != nil {
		t.Fatalf("synthesize reference: %v", err)
	}
	return format, layout, reference
}

func baseConfig(t *testing.T) ControllerConfig {
	format, layout, reference := referenceFixture(t)
	return ControllerConfig{
		Format:            format,
		Layout:            layout,
		Reference:         reference,
		InitialPopulation: 30,
		Generations:       15,
		MutationRate:      0.25,
		Workers:           2,
		Seed:              7,
	}
}

func TestControllerConvergesOnSynthesizedReference(t *testing.T) {
	cfg := baseConfig(t)
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.HasBest || result.Interrupted {
		t.Fatalf("unexpected result flags: has_best=%t interrupted=%t", result.HasBest, result.Interrupted)
	}
	if result.GenerationsCompleted != cfg.Generations+1 {
		t.Fatalf("generations completed: got=%d want=%d", result.GenerationsCompleted, cfg.Generations+1)
	}
	for i := 1; i < len(result.BestByGeneration); i++ {
		if result.BestByGeneration[i] > result.BestByGeneration[i-1] {
			t.Fatalf("best fitness regressed at generation %d: %v", i, result.BestByGeneration)
		}
	}
	if result.Best.Fitness >= result.Diagnostics[0].WorstFitness {
		t.Fatalf("best %d not better than initial worst %d", result.Best.Fitness, result.Diagnostics[0].WorstFitness)
	}

	random, err := genotype.Generate(rand.New(rand.NewSource(12345)), cfg.Layout)
	if err != nil {
		t.Fatalf("generate random: %v", err)
	}
	randomAudio, err := synth.Synthesize(random, cfg.Format, cfg.Layout)
	if err != nil {
		t.Fatalf("synthesize random: %v", err)
	}
	randomFitness, err := fitness.Score(randomAudio, cfg.Reference, cfg.Format.BitDepth)
	if err != nil {
		t.Fatalf("score random: %v", err)
	}
	if result.Best.Fitness >= randomFitness {
		t.Fatalf("best %d not better than a random chromosome %d", result.Best.Fitness, randomFitness)
	}

	if len(result.BestAudio) != cfg.Format.BufferLen() {
		t.Fatalf("best audio length: got=%d want=%d", len(result.BestAudio), cfg.Format.BufferLen())
	}
	rescored, err := fitness.Score(result.BestAudio, cfg.Reference, cfg.Format.BitDepth)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if rescored != result.Best.Fitness {
		t.Fatalf("best audio rescored to %d, reported %d", rescored, result.Best.Fitness)
	}
}

func TestControllerBreedingSizes(t *testing.T) {
	cases := []struct {
		name       string
		initial    int
		eliteCount int
		divisor    int
		wantElite  int
	}{
		{name: "derived", initial: 30, wantElite: 5},
		{name: "small population keeps one elite", initial: 4, wantElite: 1},
		{name: "explicit elite count", initial: 10, eliteCount: 3, wantElite: 3},
		{name: "custom divisor", initial: 12, divisor: 3, wantElite: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			cfg.InitialPopulation = tc.initial
			cfg.EliteCount = tc.eliteCount
			cfg.EliteDivisor = tc.divisor
			cfg.Generations = 3
			controller, err := NewController(cfg)
			if err != nil {
				t.Fatalf("new controller: %v", err)
			}
			if controller.EliteCount() != tc.wantElite {
				t.Fatalf("elite count: got=%d want=%d", controller.EliteCount(), tc.wantElite)
			}
			result, err := controller.Run(context.Background())
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Diagnostics[0].PopulationSize != tc.initial {
				t.Fatalf("initial population size: got=%d", result.Diagnostics[0].PopulationSize)
			}
			for _, diag := range result.Diagnostics[1:] {
				if diag.PopulationSize != tc.wantElite*OffspringPerElite {
					t.Fatalf("generation %d size: got=%d want=%d", diag.Generation, diag.PopulationSize, tc.wantElite*OffspringPerElite)
				}
			}
			if result.Evaluations != tc.initial+3*tc.wantElite*OffspringPerElite {
				t.Fatalf("evaluations: got=%d", result.Evaluations)
			}
		})
	}
}

func TestNewControllerRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *ControllerConfig)
		target error
	}{
		{name: "zero population", mutate: func(cfg *ControllerConfig) { cfg.InitialPopulation = 0 }, target: model.ErrInvalidConfig},
		{name: "negative generations", mutate: func(cfg *ControllerConfig) { cfg.Generations = -1 }, target: model.ErrInvalidConfig},
		{name: "mutation rate above one", mutate: func(cfg *ControllerConfig) { cfg.MutationRate = 1.5 }, target: model.ErrInvalidConfig},
		{name: "elite count above population", mutate: func(cfg *ControllerConfig) { cfg.EliteCount = 31 }, target: model.ErrInvalidConfig},
		{name: "negative divisor", mutate: func(cfg *ControllerConfig) { cfg.EliteDivisor = -2 }, target: model.ErrInvalidConfig},
		{name: "short reference", mutate: func(cfg *ControllerConfig) { cfg.Reference = cfg.Reference[:10] }, target: model.ErrFormatMismatch},
		{name: "no divisions", mutate: func(cfg *ControllerConfig) { cfg.Layout.BPM = 1 }, target: model.ErrInvalidChromosomeLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			_, err := NewController(cfg)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

type stateRecorder struct {
	states []State
	ranked []int
}

func (r *stateRecorder) StateChanged(state State, _ int) {
	r.states = append(r.states, state)
}

func (r *stateRecorder) GenerationRanked(report GenerationReport) {
	r.ranked = append(r.ranked, report.Generation)
}

func TestControllerCancellationMidEvaluationKeepsLastRankedGeneration(t *testing.T) {
	cfg := baseConfig(t)
	cfg.InitialPopulation = 12
	cfg.Workers = 1
	cfg.Generations = 5

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	defaultController, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	cfg.Evaluator = func(ctx context.Context, c model.Chromosome) (int64, error) {
		// initial generation has 12 members; interrupt a few evaluations into the next one.
		if calls.Add(1) == 15 {
			cancel()
		}
		return defaultController.synthesizeAndScore(ctx, c)
	}
	recorder := &stateRecorder{}
	cfg.Observers = []Observer{recorder}

	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(ctx)
	if err != nil {
		t.Fatalf("run returned error on interrupt: %v", err)
	}
	if !result.Interrupted || !result.HasBest {
		t.Fatalf("unexpected flags: interrupted=%t has_best=%t", result.Interrupted, result.HasBest)
	}
	if result.GenerationsCompleted != 1 || len(result.BestByGeneration) != 1 {
		t.Fatalf("expected only the initial generation to be ranked, got %d (%v)", result.GenerationsCompleted, result.BestByGeneration)
	}
	if len(result.FinalPopulation) != 12 {
		t.Fatalf("final population should be the last ranked generation, got %d members", len(result.FinalPopulation))
	}
	if result.Best.Fitness != result.Diagnostics[0].BestFitness {
		t.Fatalf("best fitness %d does not come from ranked generation (%d)", result.Best.Fitness, result.Diagnostics[0].BestFitness)
	}
	if len(result.BestAudio) != cfg.Format.BufferLen() {
		t.Fatalf("best audio length: got=%d", len(result.BestAudio))
	}
	if len(recorder.ranked) != 1 || recorder.ranked[0] != 0 {
		t.Fatalf("unexpected ranked generations: %v", recorder.ranked)
	}
	n := len(recorder.states)
	if n < 2 || recorder.states[n-2] != StateCancelling || recorder.states[n-1] != StateDone {
		t.Fatalf("expected cancelling -> done at the end, got %v", recorder.states)
	}
}

func TestControllerCancelledBeforeStart(t *testing.T) {
	controller, err := NewController(baseConfig(t))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := controller.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Interrupted || result.HasBest || result.BestAudio != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestControllerSystemicEvaluationErrorAbortsRun(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Workers = 1
	var calls atomic.Int64
	cfg.Evaluator = func(context.Context, model.Chromosome) (int64, error) {
		calls.Add(1)
		return 0, model.ErrFormatMismatch
	}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	_, err = controller.Run(context.Background())
	if !errors.Is(err, model.ErrFormatMismatch) {
		t.Fatalf("expected format mismatch, got %v", err)
	}
	// the failing task cancels the rest of the generation
	if got := calls.Load(); got > 2 {
		t.Fatalf("evaluator called %d times for population %d after a systemic error", got, cfg.InitialPopulation)
	}
}

func TestSynthesizeAndScoreHonoursCancelledContext(t *testing.T) {
	controller, err := NewController(baseConfig(t))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := controller.synthesizeAndScore(ctx, knownChromosome); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestControllerLocalEvaluationErrorRanksLast(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Generations = 0
	var calls atomic.Int64
	cfg.Evaluator = func(context.Context, model.Chromosome) (int64, error) {
		n := calls.Add(1)
		if n%2 == 0 {
			return 0, errors.New("transient")
		}
		return n, nil
	}
	controller, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Best.Fitness == math.MaxInt64 {
		t.Fatal("failed evaluation ranked first")
	}
	if result.Diagnostics[0].WorstFitness != math.MaxInt64 {
		t.Fatalf("expected failed evaluations at the bottom, worst=%d", result.Diagnostics[0].WorstFitness)
	}
}

func TestControllerIsReproducibleForSeed(t *testing.T) {
	run := func(workers int) Result {
		cfg := baseConfig(t)
		cfg.Generations = 4
		cfg.Workers = workers
		controller, err := NewController(cfg)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}
		result, err := controller.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return result
	}
	a := run(1)
	b := run(4)
	if !a.Best.Chromosome.Equal(b.Best.Chromosome) {
		t.Fatal("best chromosome depends on worker count")
	}
	for i := range a.BestByGeneration {
		if a.BestByGeneration[i] != b.BestByGeneration[i] {
			t.Fatalf("history differs at generation %d: %v vs %v", i, a.BestByGeneration, b.BestByGeneration)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	if !canTransition(StateRanking, StateDone) || !canTransition(StateBreeding, StateCancelling) {
		t.Fatal("expected valid transitions to be allowed")
	}
	if canTransition(StateDone, StateEvaluating) || canTransition(StateSeeding, StateRanking) {
		t.Fatal("expected invalid transitions to be rejected")
	}
	if StateCancelling.String() != "cancelling" {
		t.Fatalf("unexpected state name %q", StateCancelling.String())
	}
}
