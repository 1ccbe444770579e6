//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"melodist/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "melodist.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	run := sampleRun("run-1", "2026-01-02T00:00:00Z")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	earlier := sampleRun("run-0", "2026-01-01T00:00:00Z")
	if err := store.SaveRun(ctx, earlier); err != nil {
		t.Fatalf("save earlier run: %v", err)
	}

	loaded, ok, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || !loaded.Best.Chromosome.Equal(run.Best.Chromosome) {
		t.Fatalf("unexpected run loaded: ok=%t %+v", ok, loaded)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-0" || runs[1].ID != "run-1" {
		t.Fatalf("unexpected run listing: %+v", runs)
	}

	diagnostics := []model.GenerationDiagnostics{{Generation: 0, BestFitness: 700, PopulationSize: 30}}
	if err := store.SaveGenerationDiagnostics(ctx, run.ID, diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	loadedDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, run.ID)
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok || len(loadedDiagnostics) != 1 || loadedDiagnostics[0].BestFitness != 700 {
		t.Fatalf("unexpected diagnostics loaded: %+v", loadedDiagnostics)
	}

	top := []model.ScoredChromosome{run.Best}
	if err := store.SaveTopChromosomes(ctx, run.ID, top); err != nil {
		t.Fatalf("save top: %v", err)
	}
	loadedTop, ok, err := store.GetTopChromosomes(ctx, run.ID)
	if err != nil {
		t.Fatalf("get top: %v", err)
	}
	if !ok || len(loadedTop) != 1 || loadedTop[0].Fitness != run.Best.Fitness {
		t.Fatalf("unexpected top loaded: %+v", loadedTop)
	}

	if _, ok, err := store.GetTopChromosomes(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing top, got ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "melodist.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	run := sampleRun("persisted-run", "2026-01-01T00:00:00Z")
	if err := first.SaveRun(ctx, run); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	loaded, ok, err := second.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !ok || loaded.ID != run.ID {
		t.Fatalf("expected persisted run, got ok=%t value=%+v", ok, loaded)
	}
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "factory.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}
