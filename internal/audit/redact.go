package audit

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"private_key",
	"credential",
}

var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)\s*[=:]\s*\S+`),
}

// Redact returns a copy of values with sensitive keys masked and credential
// shaped substrings scrubbed. Nested maps and slices are walked.
func Redact(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		if isSensitiveKey(key) {
			out[key] = redacted
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Redact(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = redactValue(item)
		}
		return items
	case []map[string]any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = Redact(item)
		}
		return items
	case string:
		return scrub(v)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, candidate := range sensitiveKeys {
		if strings.Contains(lower, candidate) {
			return true
		}
	}
	return false
}

func scrub(s string) string {
	for _, pattern := range sensitiveValuePatterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}
