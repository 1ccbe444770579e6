package melodist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"melodist/internal/config"
	"melodist/internal/evo"
	"melodist/internal/midiexport"
	"melodist/internal/model"
	"melodist/internal/pitch"
	"melodist/internal/stats"
	"melodist/internal/storage"
	"melodist/internal/wavio"
)

const (
	defaultRunLimit = 20
	topChromosomes  = 5
	// fixed-width so timestamps sort lexically
	createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
}

type Client struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger
	now          func() time.Time
}

// RunRequest describes one search. A zero Config means config.Default.
type RunRequest struct {
	RunID     string
	InputPath string
	BPM       int
	Divisions int
	Config    config.RunConfig
	Observers []evo.Observer
}

type RunSummary struct {
	RunID                string
	OutputPath           string
	MIDIPath             string
	ArtifactsDir         string
	Format               model.AudioFormat
	DivisionCount        int
	EliteCount           int
	Seed                 int64
	HasBest              bool
	Interrupted          bool
	Best                 model.ScoredChromosome
	Notes                []string
	BestByGeneration     []int64
	GenerationsCompleted int
	Evaluations          int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	InputPath        string
	BPM              int
	Divisions        int
	Population       int
	Generations      int
	Seed             int64
	FinalBestFitness int64
	Interrupted      bool
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TopRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: opts.ArtifactsDir,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Run reads the reference recording, evolves a note sequence against it and
// persists the outcome. An interrupted run is not an error: whatever was
// ranked before the interrupt is written and the summary is marked
// Interrupted.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := requestConfig(req)
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if strings.TrimSpace(req.InputPath) == "" {
		return RunSummary{}, fmt.Errorf("%w: input path is required", model.ErrInvalidConfig)
	}
	selector, err := evo.SelectorFromName(cfg.Selection, cfg.TournamentSize)
	if err != nil {
		return RunSummary{}, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = c.now().UnixNano()
	}

	reference, format, err := wavio.ReadPCM(req.InputPath)
	if err != nil {
		return RunSummary{}, err
	}
	layout := model.NewLayout(format, req.BPM, req.Divisions)
	if err := layout.Validate(); err != nil {
		return RunSummary{}, err
	}
	c.logger.Info("reference loaded",
		"path", req.InputPath,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"bit_depth", format.BitDepth*8,
		"duration", format.Duration(),
		"divisions", layout.DivisionCount())

	controller, err := evo.NewController(evo.ControllerConfig{
		Format:            format,
		Layout:            layout,
		Reference:         reference,
		InitialPopulation: cfg.Population,
		Generations:       cfg.Generations,
		MutationRate:      cfg.MutationRate,
		EliteCount:        cfg.EliteCount,
		EliteDivisor:      cfg.EliteDivisor,
		Workers:           cfg.Workers,
		Seed:              cfg.Seed,
		Selector:          selector,
		Observers:         req.Observers,
		Logger:            c.logger,
	})
	if err != nil {
		return RunSummary{}, err
	}

	result, err := controller.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		Format:               format,
		DivisionCount:        layout.DivisionCount(),
		EliteCount:           result.EliteCount,
		Seed:                 cfg.Seed,
		HasBest:              result.HasBest,
		Interrupted:          result.Interrupted,
		BestByGeneration:     append([]int64(nil), result.BestByGeneration...),
		GenerationsCompleted: result.GenerationsCompleted,
		Evaluations:          result.Evaluations,
	}
	if !result.HasBest {
		c.logger.Warn("run interrupted before the first generation was ranked; nothing to write")
		return summary, nil
	}
	summary.Best = result.Best
	summary.Notes = noteNames(result.Best.Chromosome)

	// ctx may already be cancelled here.
	persistCtx := context.WithoutCancel(ctx)

	if err := wavio.WritePCM(cfg.Output, result.BestAudio, format); err != nil {
		return RunSummary{}, err
	}
	summary.OutputPath = cfg.Output
	if cfg.MIDIOutput != "" {
		if err := midiexport.WriteFile(cfg.MIDIOutput, result.Best.Chromosome, layout, pitch.Standard()); err != nil {
			return RunSummary{}, err
		}
		summary.MIDIPath = cfg.MIDIOutput
	}

	now := c.now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary.RunID = runID

	params := cfg.SearchParameters(req.BPM, req.Divisions)
	params.EliteCount = result.EliteCount
	record := model.RunRecord{
		VersionedRecord:  storage.Versioned(),
		ID:               runID,
		CreatedAtUTC:     now.Format(createdAtLayout),
		InputPath:        req.InputPath,
		OutputPath:       summary.OutputPath,
		MIDIPath:         summary.MIDIPath,
		Format:           format,
		Parameters:       params,
		BestByGeneration: summary.BestByGeneration,
		Best:             result.Best,
		Evaluations:      result.Evaluations,
		Interrupted:      result.Interrupted,
	}
	if err := c.store.SaveRun(persistCtx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := c.store.SaveGenerationDiagnostics(persistCtx, runID, result.Diagnostics); err != nil {
		return RunSummary{}, fmt.Errorf("save diagnostics %s: %w", runID, err)
	}
	top := result.FinalPopulation[:min(topChromosomes, len(result.FinalPopulation))]
	if err := c.store.SaveTopChromosomes(persistCtx, runID, top); err != nil {
		return RunSummary{}, fmt.Errorf("save top chromosomes %s: %w", runID, err)
	}

	if c.artifactsDir != "" {
		runDir, err := c.writeArtifacts(cfg, req, record, result)
		if err != nil {
			return RunSummary{}, err
		}
		summary.ArtifactsDir = filepath.Clean(runDir)
	}

	c.logger.Info("run finished",
		"run_id", runID,
		"best_fitness", result.Best.Fitness,
		"generations", result.GenerationsCompleted,
		"interrupted", result.Interrupted,
		"output", summary.OutputPath)
	return summary, nil
}

func (c *Client) writeArtifacts(cfg config.RunConfig, req RunRequest, record model.RunRecord, result evo.Result) (string, error) {
	table := pitch.Standard()
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             record.ID,
			InputPath:         record.InputPath,
			OutputPath:        record.OutputPath,
			MIDIPath:          record.MIDIPath,
			BPM:               req.BPM,
			Divisions:         req.Divisions,
			InitialPopulation: cfg.Population,
			Generations:       cfg.Generations,
			MutationRate:      cfg.MutationRate,
			EliteDivisor:      cfg.EliteDivisor,
			EliteCount:        result.EliteCount,
			Workers:           cfg.Workers,
			Seed:              cfg.Seed,
			Selection:         cfg.Selection,
			Store:             cfg.Store,
		},
		Format:                record.Format,
		BestByGeneration:      record.BestByGeneration,
		GenerationDiagnostics: result.Diagnostics,
		FinalBestFitness:      result.Best.Fitness,
		Interrupted:           result.Interrupted,
		TopChromosomes: stats.TopFromPopulation(result.FinalPopulation, topChromosomes, func(f float64) string {
			return table.Nearest(f).Name
		}),
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:             record.ID,
		InputPath:         record.InputPath,
		BPM:               req.BPM,
		Divisions:         req.Divisions,
		InitialPopulation: cfg.Population,
		Generations:       cfg.Generations,
		Seed:              cfg.Seed,
		Workers:           cfg.Workers,
		EliteCount:        result.EliteCount,
		FinalBestFitness:  result.Best.Fitness,
		Interrupted:       result.Interrupted,
		CreatedAtUTC:      record.CreatedAtUTC,
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

// Runs lists persisted runs newest first. When the store holds none, the
// artifacts index is consulted instead.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunLimit
	}

	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, min(req.Limit, len(records)))
	for i := len(records) - 1; i >= 0 && len(out) < req.Limit; i-- {
		r := records[i]
		out = append(out, RunItem{
			RunID:            r.ID,
			CreatedAtUTC:     r.CreatedAtUTC,
			InputPath:        r.InputPath,
			BPM:              r.Parameters.BPM,
			Divisions:        r.Parameters.Divisions,
			Population:       r.Parameters.InitialPopulation,
			Generations:      r.Parameters.Generations,
			Seed:             r.Parameters.Seed,
			FinalBestFitness: r.Best.Fitness,
			Interrupted:      r.Interrupted,
		})
	}
	if len(out) > 0 || c.artifactsDir == "" {
		return out, nil
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			InputPath:        e.InputPath,
			BPM:              e.BPM,
			Divisions:        e.Divisions,
			Population:       e.InitialPopulation,
			Generations:      e.Generations,
			Seed:             e.Seed,
			FinalBestFitness: e.FinalBestFitness,
			Interrupted:      e.Interrupted,
		})
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (model.RunRecord, error) {
	if runID == "" {
		return model.RunRecord{}, errors.New("run id is required")
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return record, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "history")
	if err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok && c.artifactsDir != "" {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Top(ctx context.Context, req TopRequest) ([]model.ScoredChromosome, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "top chromosomes")
	if err != nil {
		return nil, err
	}

	top, ok, err := c.store.GetTopChromosomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok && c.artifactsDir != "" {
		rows, found, err := stats.ReadTopChromosomes(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			top = append(top, model.ScoredChromosome{Chromosome: row.Chromosome, Fitness: row.Fitness})
		}
		ok = found
	}
	if !ok {
		return nil, fmt.Errorf("top chromosomes not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	return top, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if c.artifactsDir == "" {
		return ExportSummary{}, errors.New("export requires an artifacts directory")
	}
	if req.OutDir == "" {
		return ExportSummary{}, errors.New("export requires an output directory")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return runID, nil
	}
	items, err := c.Runs(ctx, RunsRequest{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.New("no runs available")
	}
	return items[0].RunID, nil
}

func requestConfig(req RunRequest) config.RunConfig {
	if req.Config == (config.RunConfig{}) {
		return config.Default()
	}
	return req.Config
}

func noteNames(chromosome model.Chromosome) []string {
	table := pitch.Standard()
	names := make([]string, len(chromosome))
	for i, gene := range chromosome {
		names[i] = table.Nearest(gene.Frequency).Name
	}
	return names
}
