package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsClientError reports whether err was caused by caller input rather than by
// the control plane or the engine.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// ErrorHint returns a short operator hint for the error's marker.
func ErrorHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "fix the job specification and resubmit"
	case errors.Is(err, ErrConfiguration):
		return "check evalplane config (evalplane config validate)"
	case errors.Is(err, ErrExternalTool):
		return "inspect engine output on the daemon's stderr"
	case errors.Is(err, ErrTimeout):
		return "raise engine.eval_timeout or reduce max_samples"
	case errors.Is(err, ErrNotFound):
		return "verify the referenced identifier exists"
	case errors.Is(err, ErrConflict):
		return "another worker owns this run; follow it with evalplane run show"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
