package logger

import (
	"strings"
)

// Vault tokens carry this prefix.
var sensitiveValuePrefixes = []string{
	"sfv1_",
}

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"key",
	"credential",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// Redact returns a copy of keyvals with sensitive values masked. Vault tokens
// keep their prefix and a short hint; other values under sensitive keys are
// replaced entirely.
func Redact(keyvals []any) []any {
	if len(keyvals) == 0 {
		return keyvals
	}
	out := make([]any, len(keyvals))
	copy(out, keyvals)

	for i := 0; i+1 < len(out); i += 2 {
		key, _ := out[i].(string)
		str, ok := out[i+1].(string)
		if !ok {
			if IsSensitiveKey(key) && out[i+1] != nil {
				out[i+1] = redactedValue
			}
			continue
		}
		if masked := RedactString(str); masked != str {
			out[i+1] = masked
			continue
		}
		if IsSensitiveKey(key) && str != "" {
			out[i+1] = redactedValue
		}
	}
	return out
}

// maskValue partially masks a sensitive value, keeping prefix and hints.
// Format: prefix + first 3 chars + "..." + last 3 chars
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks value when it looks like a vault token.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
