// Package details reads per-sample detail files written by the engine.
package details

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

func open(path string) (*parquet.File, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open detail file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat detail file: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	return pf, f.Close, nil
}

// RowCount returns the number of rows recorded in the file footer.
func RowCount(path string) (int64, error) {
	pf, closeFile, err := open(path)
	if err != nil {
		return 0, err
	}
	defer closeFile()
	return pf.NumRows(), nil
}

// ReadRows returns up to limit rows starting at offset, each keyed by column
// path. Repeated columns become slices. Reading past the end yields no rows.
func ReadRows(path string, offset, limit int64) ([]map[string]any, error) {
	if offset < 0 {
		offset = 0
	}
	rows := []map[string]any{}
	if limit <= 0 {
		return rows, nil
	}
	pf, closeFile, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFile()

	columns := pf.Schema().Columns()
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = strings.Join(col, ".")
	}

	skip := offset
	buf := make([]parquet.Row, 64)
	for _, group := range pf.RowGroups() {
		if int64(len(rows)) >= limit {
			break
		}
		groupRows := group.NumRows()
		if skip >= groupRows {
			skip -= groupRows
			continue
		}
		if err := readGroup(group, skip, limit, names, buf, &rows); err != nil {
			return nil, err
		}
		skip = 0
	}
	return rows, nil
}

func readGroup(group parquet.RowGroup, skip, limit int64, names []string, buf []parquet.Row, out *[]map[string]any) error {
	reader := group.Rows()
	defer reader.Close()
	if skip > 0 {
		if err := reader.SeekToRow(skip); err != nil {
			return fmt.Errorf("seek detail rows: %w", err)
		}
	}
	for int64(len(*out)) < limit {
		want := limit - int64(len(*out))
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := reader.ReadRows(buf[:want])
		for _, row := range buf[:n] {
			*out = append(*out, rowToMap(row, names))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read detail rows: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func rowToMap(row parquet.Row, names []string) map[string]any {
	record := make(map[string]any, len(names))
	repeated := make(map[string]bool)
	for _, value := range row {
		col := value.Column()
		if col < 0 || col >= len(names) {
			continue
		}
		name := names[col]
		converted := convertValue(value)
		existing, seen := record[name]
		switch {
		case !seen:
			record[name] = converted
		case repeated[name]:
			record[name] = append(existing.([]any), converted)
		default:
			record[name] = []any{existing, converted}
			repeated[name] = true
		}
	}
	return record
}

func convertValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return value.Int32()
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return value.Float()
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}
