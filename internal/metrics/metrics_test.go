package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"melodist/internal/evo"
	"melodist/internal/model"
)

func report(gen int, best int64, evaluations int) evo.GenerationReport {
	return evo.GenerationReport{
		Generation: gen,
		Diagnostics: model.GenerationDiagnostics{
			Generation:     gen,
			BestFitness:    best,
			MeanFitness:    float64(best) * 2,
			WorstFitness:   best * 3,
			PopulationSize: 30,
			Elapsed:        50 * time.Millisecond,
		},
		Evaluations: evaluations,
	}
}

func TestRecorderReflectsLastGeneration(t *testing.T) {
	r := NewRecorder()
	r.GenerationRanked(report(0, 900, 30))
	r.GenerationRanked(report(1, 700, 60))

	if got := testutil.ToFloat64(r.generation); got != 1 {
		t.Fatalf("generation: got=%f", got)
	}
	if got := testutil.ToFloat64(r.bestFitness); got != 700 {
		t.Fatalf("best fitness: got=%f", got)
	}
	if got := testutil.ToFloat64(r.evaluations); got != 60 {
		t.Fatalf("evaluations: got=%f", got)
	}
	if got := testutil.CollectAndCount(r.genDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

func TestRecorderTracksStateAndInterrupts(t *testing.T) {
	r := NewRecorder()
	r.StateChanged(evo.StateEvaluating, 0)
	if got := testutil.ToFloat64(r.state.WithLabelValues("evaluating")); got != 1 {
		t.Fatalf("evaluating gauge: got=%f", got)
	}
	r.StateChanged(evo.StateCancelling, 0)
	if got := testutil.ToFloat64(r.state.WithLabelValues("evaluating")); got != 0 {
		t.Fatalf("evaluating gauge after cancel: got=%f", got)
	}
	if got := testutil.ToFloat64(r.interrupts); got != 1 {
		t.Fatalf("interrupts: got=%f", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRecorder()
	r.GenerationRanked(report(3, 42, 10))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "melodist_best_fitness 42") {
		t.Fatalf("metrics body missing best fitness:\n%s", rec.Body.String())
	}
}
