package ingest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Discovery lists candidate files found under an output directory, each in
// lexical path order.
type Discovery struct {
	ResultsFiles []string
	ParquetFiles []string
}

// Discover walks root recursively. Unreadable directories are skipped and a
// missing root yields an empty Discovery.
func Discover(root string) Discovery {
	var found Discovery
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasPrefix(name, "results_") && strings.HasSuffix(name, ".json"):
			found.ResultsFiles = append(found.ResultsFiles, path)
		case strings.HasSuffix(name, ".parquet"):
			found.ParquetFiles = append(found.ParquetFiles, path)
		}
		return nil
	})
	sort.Strings(found.ResultsFiles)
	sort.Strings(found.ParquetFiles)
	return found
}

// DetailTaskKey derives the task key from a detail file name of the form
// details_<task>_<suffix>.parquet. The last underscore segment is dropped
// when there is more than one.
func DetailTaskKey(filename string) (string, bool) {
	if !strings.HasPrefix(filename, "details_") || !strings.HasSuffix(filename, ".parquet") {
		return "", false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(filename, "details_"), ".parquet")
	parts := strings.Split(trimmed, "_")
	if len(parts) > 1 {
		return strings.Join(parts[:len(parts)-1], "_"), true
	}
	return trimmed, true
}
