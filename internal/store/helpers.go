package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func timeFromNull(value sql.NullString) time.Time {
	t, _ := parseTimeString(value.String)
	return t
}

func timePtrFromNull(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func intPtrFromNull(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func int64PtrFromNull(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func floatPtrFromNull(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func stringPtrFromNull(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(raw sql.NullString) []string {
	values := []string{}
	if !raw.Valid || raw.String == "" {
		return values
	}
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return []string{}
	}
	return values
}

// rawObject returns stored JSON text as a RawMessage, substituting {} for
// empty or unparseable values so API responses stay well-formed.
func rawObject(raw sql.NullString) json.RawMessage {
	if !raw.Valid || raw.String == "" || !json.Valid([]byte(raw.String)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw.String)
}

func objectOrDefault(value string) string {
	if value == "" {
		return "{}"
	}
	return value
}
