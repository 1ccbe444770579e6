// Package config holds the tunable parameters of a search run and loads them
// from TOML files.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"melodist/internal/evo"
	"melodist/internal/model"
	"melodist/internal/storage"
)

const (
	DefaultPopulation   = 30
	DefaultGenerations  = 50
	DefaultMutationRate = 0.25
	DefaultOutput       = "export.wav"
	DefaultSelection    = "uniform"
	DefaultTournament   = 3
	DefaultLogLevel     = "info"
	DefaultDBPath       = "melodist.db"
	DefaultArtifactsDir = "runs"
)

type RunConfig struct {
	Workers        int     `toml:"workers"`
	Population     int     `toml:"population"`
	Generations    int     `toml:"generations"`
	MutationRate   float64 `toml:"mutation_rate"`
	EliteDivisor   int     `toml:"elite_divisor"`
	EliteCount     int     `toml:"elite_count"`
	Seed           int64   `toml:"seed"`
	Selection      string  `toml:"selection"`
	TournamentSize int     `toml:"tournament_size"`
	Output         string  `toml:"output"`
	MIDIOutput     string  `toml:"midi"`
	Store          string  `toml:"store"`
	DBPath         string  `toml:"db_path"`
	ArtifactsDir   string  `toml:"artifacts_dir"`
	MetricsAddr    string  `toml:"metrics_addr"`
	LogLevel       string  `toml:"log_level"`
}

func Default() RunConfig {
	return RunConfig{
		Workers:        evo.DefaultWorkers,
		Population:     DefaultPopulation,
		Generations:    DefaultGenerations,
		MutationRate:   DefaultMutationRate,
		EliteDivisor:   evo.DefaultEliteDivisor,
		Selection:      DefaultSelection,
		TournamentSize: DefaultTournament,
		Output:         DefaultOutput,
		Store:          storage.DefaultStoreKind,
		DBPath:         DefaultDBPath,
		ArtifactsDir:   DefaultArtifactsDir,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadFile reads a TOML file on top of Default. Unknown keys are rejected.
func LoadFile(path string) (RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunConfig{}, err
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func Decode(r io.Reader) (RunConfig, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return RunConfig{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return RunConfig{}, fmt.Errorf("%w: unknown keys: %s", model.ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c RunConfig) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be > 0", model.ErrInvalidConfig)
	case c.Population <= 0:
		return fmt.Errorf("%w: population size must be > 0", model.ErrInvalidConfig)
	case c.Generations < 0:
		return fmt.Errorf("%w: generations must be >= 0", model.ErrInvalidConfig)
	case math.IsNaN(c.MutationRate) || c.MutationRate < 0 || c.MutationRate > 1:
		return fmt.Errorf("%w: mutation rate must be in [0, 1]", model.ErrInvalidConfig)
	case c.EliteDivisor <= 0:
		return fmt.Errorf("%w: elite divisor must be > 0", model.ErrInvalidConfig)
	case c.EliteCount < 0 || c.EliteCount > c.Population:
		return fmt.Errorf("%w: elite count must be in [0, population]", model.ErrInvalidConfig)
	case strings.TrimSpace(c.Output) == "":
		return fmt.Errorf("%w: output path is required", model.ErrInvalidConfig)
	}
	if _, err := evo.SelectorFromName(c.Selection, c.TournamentSize); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Store {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("%w: sqlite store requires db_path", model.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported store backend: %s", model.ErrInvalidConfig, c.Store)
	}
	return nil
}

// OverrideFromFlags copies the values of explicitly set flags onto c, so a
// config file value survives unless the flag was given on the command line.
func (c *RunConfig) OverrideFromFlags(set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		var typed bool
		switch name {
		case "workers":
			c.Workers, typed = v.(int)
		case "population":
			c.Population, typed = v.(int)
		case "generations":
			c.Generations, typed = v.(int)
		case "mutation-rate":
			c.MutationRate, typed = v.(float64)
		case "elite-divisor":
			c.EliteDivisor, typed = v.(int)
		case "elite-count":
			c.EliteCount, typed = v.(int)
		case "seed":
			c.Seed, typed = v.(int64)
		case "selection":
			c.Selection, typed = v.(string)
		case "tournament-size":
			c.TournamentSize, typed = v.(int)
		case "output":
			c.Output, typed = v.(string)
		case "midi":
			c.MIDIOutput, typed = v.(string)
		case "store":
			c.Store, typed = v.(string)
		case "db-path":
			c.DBPath, typed = v.(string)
		case "artifacts-dir":
			c.ArtifactsDir, typed = v.(string)
		case "metrics-addr":
			c.MetricsAddr, typed = v.(string)
		case "log-level":
			c.LogLevel, typed = v.(string)
		default:
			continue
		}
		if !typed {
			return fmt.Errorf("flag %s has unexpected type %T", name, v)
		}
	}
	return nil
}

// SearchParameters projects the config onto one run's parameters.
func (c RunConfig) SearchParameters(bpm, divisions int) model.SearchParameters {
	return model.SearchParameters{
		BPM:               bpm,
		Divisions:         divisions,
		Workers:           c.Workers,
		InitialPopulation: c.Population,
		Generations:       c.Generations,
		MutationRate:      c.MutationRate,
		EliteDivisor:      c.EliteDivisor,
		EliteCount:        c.EliteCount,
		Seed:              c.Seed,
		Selection:         c.Selection,
	}
}

func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", model.ErrInvalidConfig, name)
	}
}
