package testsupport

import (
	"context"
	"testing"

	"evalplane/internal/config"
	"evalplane/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// PackTask describes one task for SeedPack.
type PackTask struct {
	TaskSpec  string
	Weight    float64
	Overrides string
}

// SeedPack imports a pack scored by primaryMetric with the given tasks.
func SeedPack(t testing.TB, st *store.Store, name, primaryMetric string, tasks ...PackTask) *store.Pack {
	t.Helper()

	params := store.NewPack{
		Name:          name,
		Version:       "1.0",
		PrimaryMetric: primaryMetric,
	}
	for i, task := range tasks {
		params.Tasks = append(params.Tasks, store.NewPackTask{
			TaskSpec:     task.TaskSpec,
			Weight:       task.Weight,
			DisplayOrder: i,
			Overrides:    task.Overrides,
		})
	}
	pack, err := st.ImportPack(context.Background(), params)
	if err != nil {
		t.Fatalf("store.ImportPack: %v", err)
	}
	return pack
}

// SeedRun creates a queued run against packID with a minimal stored job spec.
func SeedRun(t testing.TB, st *store.Store, packID, modelName, outputDir string) *store.Run {
	t.Helper()

	run, err := st.CreateRun(context.Background(), store.NewRun{
		PackID:      packID,
		ModelName:   modelName,
		BackendType: "openai_compatible",
		OutputDir:   outputDir,
		JobSpec:     `{"benchmark_pack_id":"` + packID + `"}`,
	})
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}
