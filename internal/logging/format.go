package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

func consoleTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(consoleTimeLayout)
}

// plainString renders a value without quoting, for subject fields such as
// the component or run id.
func plainString(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	if v.Kind() == slog.KindTime {
		return consoleTime(v.Time())
	}
	return v.String()
}

// fieldString renders a value for a console key/value line. Strings that
// would be ambiguous unquoted are quoted.
func fieldString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return quoteIfNeeded(plainString(v))
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
