package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitivePatterns match secrets embedded in free-form strings such as
// delivery URLs and gateway error messages.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)=)([^&;,\s]+)`),
	regexp.MustCompile(`(?i)(://[^:/@\s]+:)([^@\s]+)(@)`),
}

// sensitiveKeywords mark field keys whose string values are never logged.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "authorization",
}

// RedactSensitiveData replaces credentials in s with "[REDACTED]".
func RedactSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, p := range sensitivePatterns {
		if p.NumSubexp() == 3 {
			s = p.ReplaceAllString(s, "${1}"+redactedValue+"${3}")
			continue
		}
		s = p.ReplaceAllString(s, "${1}"+redactedValue)
	}
	return s
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}
