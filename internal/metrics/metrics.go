// Package metrics exposes search progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"melodist/internal/evo"
)

const namespace = "melodist"

// Recorder is an evo.Observer that mirrors controller progress into its own
// registry.
type Recorder struct {
	registry *prometheus.Registry

	generation   prometheus.Gauge
	bestFitness  prometheus.Gauge
	meanFitness  prometheus.Gauge
	population   prometheus.Gauge
	evaluations  prometheus.Counter
	interrupts   prometheus.Counter
	genDuration  prometheus.Histogram
	state        *prometheus.GaugeVec
	lastEvalSeen int
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Index of the last fully ranked generation.",
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best (lowest) fitness of the last ranked generation.",
		}),
		meanFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_fitness",
			Help:      "Mean fitness of the last ranked generation.",
		}),
		population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "population_size",
			Help:      "Size of the last ranked generation.",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Chromosomes synthesized and scored.",
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Runs that ended through cancellation.",
		}),
		genDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time spent evaluating and ranking one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "1 for the controller's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	r.registry.MustRegister(
		r.generation,
		r.bestFitness,
		r.meanFitness,
		r.population,
		r.evaluations,
		r.interrupts,
		r.genDuration,
		r.state,
	)
	return r
}

func (r *Recorder) StateChanged(state evo.State, _ int) {
	for s := evo.StateSeeding; s <= evo.StateDone; s++ {
		value := 0.0
		if s == state {
			value = 1
		}
		r.state.WithLabelValues(s.String()).Set(value)
	}
	if state == evo.StateCancelling {
		r.interrupts.Inc()
	}
}

func (r *Recorder) GenerationRanked(report evo.GenerationReport) {
	r.generation.Set(float64(report.Generation))
	r.bestFitness.Set(float64(report.Diagnostics.BestFitness))
	r.meanFitness.Set(report.Diagnostics.MeanFitness)
	r.population.Set(float64(report.Diagnostics.PopulationSize))
	r.genDuration.Observe(report.Diagnostics.Elapsed.Seconds())
	// report.Evaluations is cumulative for the run.
	if delta := report.Evaluations - r.lastEvalSeen; delta > 0 {
		r.evaluations.Add(float64(delta))
	}
	r.lastEvalSeen = report.Evaluations
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
