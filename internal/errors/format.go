package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// asPodError returns the first PodError in the chain, wrapping plain errors as internal.
func asPodError(err error) *PodError {
	var pe *PodError
	if errors.As(err, &pe) {
		return pe
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForUser returns a user-friendly error message.
// With debug set, the underlying cause is included.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	var pe *PodError
	if !errors.As(err, &pe) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(pe.Message)
	sb.WriteString("\n")

	if debug && pe.Cause != nil && pe.Cause.Error() != pe.Message {
		sb.WriteString("Cause: ")
		sb.WriteString(pe.Cause.Error())
		sb.WriteString("\n")
	}

	if pe.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(pe.Suggestion)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", pe.Code))
	return sb.String()
}

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	pe := asPodError(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", pe.Message))
	if pe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", pe.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", pe.Code))
	return sb.String()
}

// JSONError is the wire representation of an error in API responses.
type JSONError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// ToJSONError converts err to its wire representation.
// The cause is deliberately left out so internals never reach API clients.
func ToJSONError(err error) JSONError {
	pe := asPodError(err)
	return JSONError{
		Code:       pe.Code,
		Message:    pe.Message,
		Category:   string(pe.Category),
		Severity:   string(pe.Severity),
		Details:    pe.Details,
		Suggestion: pe.Suggestion,
		Retryable:  pe.Retryable,
	}
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(ToJSONError(err))
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	var pe *PodError
	if !errors.As(err, &pe) {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": pe.Code,
		"message":    pe.Message,
		"category":   string(pe.Category),
		"severity":   string(pe.Severity),
		"retryable":  pe.Retryable,
	}
	if pe.Cause != nil {
		result["cause"] = pe.Cause.Error()
	}
	if pe.Suggestion != "" {
		result["suggestion"] = pe.Suggestion
	}
	for k, v := range pe.Details {
		result["detail_"+k] = v
	}
	return result
}
