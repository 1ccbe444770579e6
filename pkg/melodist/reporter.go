package melodist

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"melodist/internal/evo"
)

// ConsoleReporter logs per-generation progress. It only observes the run.
type ConsoleReporter struct {
	logger      *slog.Logger
	generations int
}

// NewConsoleReporter reports against a budget of generations bred
// generations after the initial one.
func NewConsoleReporter(logger *slog.Logger, generations int) *ConsoleReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleReporter{logger: logger, generations: generations}
}

func (r *ConsoleReporter) StateChanged(state evo.State, generation int) {
	switch state {
	case evo.StateSeeding:
		r.logger.Info("seeding initial population")
	case evo.StateCancelling:
		r.logger.Warn("interrupt received; finishing in-flight evaluations", "generation", generation)
	case evo.StateEvaluating, evo.StateRanking, evo.StateBreeding, evo.StateDone:
		r.logger.Debug("controller state", "state", state.String(), "generation", generation)
	}
}

func (r *ConsoleReporter) GenerationRanked(report evo.GenerationReport) {
	d := report.Diagnostics
	r.logger.Info("generation ranked",
		"generation", fmt.Sprintf("%d/%d", report.Generation, r.generations),
		"best", humanize.Comma(d.BestFitness),
		"mean", humanize.Commaf(d.MeanFitness),
		"population", d.PopulationSize,
		"evaluations", humanize.Comma(int64(report.Evaluations)),
		"elapsed", d.Elapsed.Round(time.Millisecond))
}
