package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"melodist/internal/config"
	"melodist/pkg/melodist"
)

type cliOptions struct {
	configPath   string
	store        string
	dbPath       string
	artifactsDir string
	logLevel     string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{stdout: stdout, stderr: stderr}
	defaults := config.Default()

	root := &cobra.Command{
		Use:           "melodistctl",
		Short:         "Evolve note sequences that resynthesize a recording",
		Long:          `melodistctl searches for the sequence of notes whose additive synthesis best matches a WAV recording, using a genetic algorithm.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "TOML file with run settings")
	flags.StringVar(&opts.store, "store", defaults.Store, "store backend: memory|sqlite")
	flags.StringVar(&opts.dbPath, "db-path", defaults.DBPath, "sqlite database path")
	flags.StringVar(&opts.artifactsDir, "artifacts-dir", defaults.ArtifactsDir, "directory for per-run artifacts (empty disables them)")
	flags.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")

	root.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newHistoryCmd(opts),
		newTopCmd(opts),
		newExportCmd(opts),
		newPitchesCmd(opts),
	)
	return root
}

// settings resolves the effective configuration: defaults, then the config
// file, then flags that were set explicitly on the command line.
func (o *cliOptions) settings(cmd *cobra.Command, extra map[string]any) (config.RunConfig, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}

	values := map[string]any{
		"store":         o.store,
		"db-path":       o.dbPath,
		"artifacts-dir": o.artifactsDir,
		"log-level":     o.logLevel,
	}
	for name, value := range extra {
		values[name] = value
	}
	set := make(map[string]bool, len(values))
	for name := range values {
		if cmd.Flags().Changed(name) {
			set[name] = true
		}
	}
	if err := cfg.OverrideFromFlags(set, values); err != nil {
		return config.RunConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}

func (o *cliOptions) logger(cfg config.RunConfig) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

func (o *cliOptions) client(ctx context.Context, cfg config.RunConfig) (*melodist.Client, error) {
	client, err := melodist.New(melodist.Options{
		StoreKind:    cfg.Store,
		DBPath:       cfg.DBPath,
		ArtifactsDir: cfg.ArtifactsDir,
		Logger:       o.logger(cfg),
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
