package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"melodist/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	fitnessSeriesFile  = "fitness_history.csv"
	configFile         = "config.json"
	historyFile        = "fitness_history.json"
	topFile            = "top_chromosomes.json"
	diagnosticsFile    = "generation_diagnostics.json"
	defaultTopCapacity = 5
)

type RunConfig struct {
	RunID             string  `json:"run_id"`
	InputPath         string  `json:"input_path"`
	OutputPath        string  `json:"output_path"`
	MIDIPath          string  `json:"midi_path,omitempty"`
	BPM               int     `json:"bpm"`
	Divisions         int     `json:"divisions"`
	InitialPopulation int     `json:"initial_population"`
	Generations       int     `json:"generations"`
	MutationRate      float64 `json:"mutation_rate"`
	EliteDivisor      int     `json:"elite_divisor"`
	EliteCount        int     `json:"elite_count"`
	Workers           int     `json:"workers"`
	Seed              int64   `json:"seed"`
	Selection         string  `json:"selection"`
	Store             string  `json:"store,omitempty"`
}

// TopChromosome is one ranked member of the final population together with
// the note names nearest to each gene frequency.
type TopChromosome struct {
	Rank       int              `json:"rank"`
	Fitness    int64            `json:"fitness"`
	Notes      []string         `json:"notes,omitempty"`
	Chromosome model.Chromosome `json:"chromosome"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	Format                model.AudioFormat             `json:"format"`
	BestByGeneration      []int64                       `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      int64                         `json:"final_best_fitness"`
	Interrupted           bool                          `json:"interrupted"`
	TopChromosomes        []TopChromosome               `json:"top_chromosomes"`
}

type RunIndexEntry struct {
	RunID             string `json:"run_id"`
	InputPath         string `json:"input_path"`
	BPM               int    `json:"bpm"`
	Divisions         int    `json:"divisions"`
	InitialPopulation int    `json:"initial_population"`
	Generations       int    `json:"generations"`
	Seed              int64  `json:"seed"`
	Workers           int    `json:"workers"`
	EliteCount        int    `json:"elite_count"`
	FinalBestFitness  int64  `json:"final_best_fitness"`
	Interrupted       bool   `json:"interrupted"`
	CreatedAtUTC      string `json:"created_at_utc"`
}

// TopFromPopulation turns the head of a ranked population into artifact rows.
// noteName maps a gene frequency to a display name and may be nil.
func TopFromPopulation(ranked []model.ScoredChromosome, limit int, noteName func(float64) string) []TopChromosome {
	if limit <= 0 {
		limit = defaultTopCapacity
	}
	limit = min(limit, len(ranked))
	top := make([]TopChromosome, 0, limit)
	for i := 0; i < limit; i++ {
		entry := TopChromosome{
			Rank:       i + 1,
			Fitness:    ranked[i].Fitness,
			Chromosome: ranked[i].Chromosome.Clone(),
		}
		if noteName != nil {
			entry.Notes = make([]string, len(ranked[i].Chromosome))
			for j, gene := range ranked[i].Chromosome {
				entry.Notes[j] = noteName(gene.Frequency)
			}
		}
		top = append(top, entry)
	}
	return top
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, historyFile), map[string]any{
		"format":             artifacts.Format,
		"best_by_generation": artifacts.BestByGeneration,
		"final_best_fitness": artifacts.FinalBestFitness,
		"interrupted":        artifacts.Interrupted,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, topFile), artifacts.TopChromosomes); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(runDir, artifacts.BestByGeneration); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's artifact files into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, historyFile, topFile, diagnosticsFile, fitnessSeriesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadTopChromosomes(baseDir, runID string) ([]TopChromosome, bool, error) {
	var top []TopChromosome
	ok, err := readJSON(filepath.Join(baseDir, runID, topFile), &top)
	if err != nil || !ok {
		return nil, ok, err
	}
	return top, true, nil
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsFile), &diagnostics)
	if err != nil || !ok {
		return nil, ok, err
	}
	return diagnostics, true, nil
}

// WriteFitnessSeries writes one "generation,best_fitness" row per ranked
// generation, starting at generation 0.
func WriteFitnessSeries(runDir string, bestByGeneration []int64) error {
	path := filepath.Join(runDir, fitnessSeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatInt(best, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessSeries(baseDir, runID string) ([]int64, bool, error) {
	path := filepath.Join(baseDir, runID, fitnessSeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []int64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness series header must have at least 2 columns")
	}

	series := make([]int64, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("fitness series row must have at least 2 columns")
		}
		value, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, into any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
