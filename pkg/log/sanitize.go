package log

import (
	"strings"
)

// sensitiveKeywords marks log field names whose values must be masked.
// Proxied requests carry upstream credentials in headers and the
// configuration carries DSNs; neither may land in a log sink verbatim.
var sensitiveKeywords = []string{
	"authorization",
	"api_key",
	"apikey",
	"api-key",
	"token",
	"secret",
	"password",
	"passwd",
	"pwd",
	"credential",
	"private_key",
	"dsn",
	"cookie",
}

// isSensitiveField reports whether the field name suggests a credential.
func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// sanitizeToken masks the middle of a value, keeping a 4-character
// prefix and suffix for correlation. Values of 8 characters or fewer
// keep only the first and last character.
func sanitizeToken(value string) string {
	n := len(value)
	if n == 0 {
		return ""
	}
	if n <= 2 {
		return strings.Repeat("*", n)
	}
	if n <= 8 {
		return value[:1] + strings.Repeat("*", n-2) + value[n-1:]
	}
	return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
}

// SanitizeField masks the value when the key names a credential-bearing
// field, otherwise returns it unchanged.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}
	if isSensitiveField(key) {
		return sanitizeToken(value)
	}
	return value
}
