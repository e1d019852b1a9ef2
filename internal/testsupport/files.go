package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
)

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteResults marshals payload as an engine results file at
// <dir>/results/<model>/results_<stamp>.json and returns its path.
func WriteResults(t testing.TB, dir, model, stamp string, payload any) string {
	t.Helper()

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		t.Fatalf("marshal results: %v", err)
	}
	path := filepath.Join(dir, "results", model, "results_"+stamp+".json")
	WriteFile(t, path, data)
	return path
}

// DetailRow is the row shape of fixture detail files.
type DetailRow struct {
	Example    string  `parquet:"example"`
	Prediction string  `parquet:"prediction"`
	Score      float64 `parquet:"score"`
}

// WriteDetails writes rows as a parquet file at path.
func WriteDetails(t testing.TB, path string, rows []DetailRow) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write parquet %s: %v", path, err)
	}
}
