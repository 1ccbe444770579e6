package storage

import (
	"context"

	"melodist/internal/model"
)

// Store defines transaction-like persistence operations for search runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run ordered by creation time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopChromosomes(ctx context.Context, runID string, top []model.ScoredChromosome) error
	GetTopChromosomes(ctx context.Context, runID string) ([]model.ScoredChromosome, bool, error)
}
