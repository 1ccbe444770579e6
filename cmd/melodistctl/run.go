package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"melodist/internal/config"
	"melodist/internal/evo"
	"melodist/internal/metrics"
	"melodist/pkg/melodist"
)

type runOptions struct {
	workers        int
	population     int
	generations    int
	mutationRate   float64
	eliteDivisor   int
	eliteCount     int
	seed           int64
	selection      string
	tournamentSize int
	output         string
	midi           string
	metricsAddr    string
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	ro := &runOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "run <file> <bpm> <divisions>",
		Short: "Evolve a note sequence against a WAV recording",
		Long: `run reads an 8- or 16-bit PCM WAV recording and searches for the note
sequence that best resynthesizes it. divisions is the number of notes per beat.
The best candidate is written to --output even when the run is interrupted.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, ro, args)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&ro.workers, "workers", "p", defaults.Workers, "parallel evaluation workers")
	flags.IntVar(&ro.population, "population", defaults.Population, "initial population size")
	flags.IntVar(&ro.generations, "generations", defaults.Generations, "generations bred after the initial one")
	flags.Float64Var(&ro.mutationRate, "mutation-rate", defaults.MutationRate, "per-gene mutation probability")
	flags.IntVar(&ro.eliteDivisor, "elite-divisor", defaults.EliteDivisor, "elite count is population/elite-divisor")
	flags.IntVar(&ro.eliteCount, "elite-count", defaults.EliteCount, "fixed elite count (0 derives it from elite-divisor)")
	flags.Int64Var(&ro.seed, "seed", defaults.Seed, "random seed (0 uses the current time)")
	flags.StringVar(&ro.selection, "selection", defaults.Selection, "crossover partner selection: uniform|tournament")
	flags.IntVar(&ro.tournamentSize, "tournament-size", defaults.TournamentSize, "tournament size for tournament selection")
	flags.StringVarP(&ro.output, "output", "o", defaults.Output, "output WAV path")
	flags.StringVar(&ro.midi, "midi", "", "optional output MIDI path")
	flags.StringVar(&ro.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func (ro *runOptions) values() map[string]any {
	return map[string]any{
		"workers":         ro.workers,
		"population":      ro.population,
		"generations":     ro.generations,
		"mutation-rate":   ro.mutationRate,
		"elite-divisor":   ro.eliteDivisor,
		"elite-count":     ro.eliteCount,
		"seed":            ro.seed,
		"selection":       ro.selection,
		"tournament-size": ro.tournamentSize,
		"output":          ro.output,
		"midi":            ro.midi,
		"metrics-addr":    ro.metricsAddr,
	}
}

func runSearch(cmd *cobra.Command, opts *cliOptions, ro *runOptions, args []string) error {
	bpm, err := positiveArg("bpm", args[1])
	if err != nil {
		return err
	}
	divisions, err := positiveArg("divisions", args[2])
	if err != nil {
		return err
	}

	cfg, err := opts.settings(cmd, ro.values())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := opts.logger(cfg)

	client, err := opts.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	observers := []evo.Observer{melodist.NewConsoleReporter(logger, cfg.Generations)}
	if cfg.MetricsAddr != "" {
		recorder := metrics.NewRecorder()
		shutdown, err := serveMetrics(cfg.MetricsAddr, recorder)
		if err != nil {
			return err
		}
		defer shutdown()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		observers = append(observers, recorder)
	}

	summary, err := client.Run(ctx, melodist.RunRequest{
		InputPath: args[0],
		BPM:       bpm,
		Divisions: divisions,
		Config:    cfg,
		Observers: observers,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !summary.HasBest {
		fmt.Fprintln(out, "interrupted before the first generation was ranked; no output written")
		return nil
	}
	if summary.Interrupted {
		fmt.Fprintf(out, "interrupted after %d generation(s); writing best so far\n", summary.GenerationsCompleted)
	}
	fmt.Fprintf(out, "run_id=%s best_fitness=%s generations=%d evaluations=%s seed=%d\n",
		summary.RunID,
		humanize.Comma(summary.Best.Fitness),
		summary.GenerationsCompleted,
		humanize.Comma(int64(summary.Evaluations)),
		summary.Seed)
	fmt.Fprintf(out, "notes=%s\n", strings.Join(summary.Notes, " "))
	fmt.Fprintf(out, "output=%s (%s)\n", summary.OutputPath, humanize.Bytes(uint64(summary.Format.BufferLen())))
	if summary.MIDIPath != "" {
		fmt.Fprintf(out, "midi=%s\n", summary.MIDIPath)
	}
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func positiveArg(name, raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", name, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return value, nil
}

func serveMetrics(addr string, recorder *metrics.Recorder) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(listener)
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Close()
		}
	}, nil
}
