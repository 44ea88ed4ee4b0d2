package logutil

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Redacted replaces any value that must not reach logs or reports.
const Redacted = "[REDACTED]"

// sensitiveMarkers are substrings of a normalized key that mark it as a
// credential. "senha" is the password label of the registration app.
var sensitiveMarkers = []string{
	"token", "secret", "password", "passwd", "senha", "apikey", "cookie", "authorization",
}

// IsSensitiveLogField reports whether a field name, selector or step label
// likely refers to a credential.
func IsSensitiveLogField(key string) bool {
	normalized := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// RedactFillValue hides the value typed into a field when the step is marked
// secret or its selector looks like a credential field.
func RedactFillValue(selector, value string, secret bool) string {
	if secret || IsSensitiveLogField(selector) {
		return Redacted
	}
	return value
}

// RedactJSONForLog redacts sensitive fields from a JSON payload; invalid JSON
// is returned as-is.
func RedactJSONForLog(body []byte) string {
	text := string(body)

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}

	var redact func(v any)
	redact = func(v any) {
		switch typed := v.(type) {
		case map[string]any:
			for k, child := range typed {
				if IsSensitiveLogField(k) {
					typed[k] = Redacted
					continue
				}
				redact(child)
			}
		case []any:
			for _, child := range typed {
				redact(child)
			}
		}
	}

	redact(payload)
	safeJSON, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(safeJSON)
}

// TruncateForLog returns a single-line truncated preview for unstructured
// values such as page content. The cut never splits a UTF-8 sequence.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return cut(strings.ReplaceAll(trimmed, "\n", "\\n"), maxChars)
}

// Truncate shortens value to maxChars bytes without altering the text that
// is kept. Use it for values reported to people; use TruncateForLog for log
// attributes.
func Truncate(value string, maxChars int) string {
	return cut(strings.TrimSpace(value), maxChars)
}

func cut(value string, maxChars int) string {
	if maxChars <= 0 || len(value) <= maxChars {
		return value
	}
	end := maxChars
	for end > 0 && !utf8.RuneStart(value[end]) {
		end--
	}
	return value[:end] + truncatedSuffix
}

const truncatedSuffix = "... [truncated]"
