package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// redactionRule pairs a pattern with its replacement template
type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// sensitiveDataRules lists patterns for sensitive data that should be redacted in logs
var sensitiveDataRules = []redactionRule{
	// Bearer tokens and JWTs used against the target backend
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`), "${1}" + redactedValue},
	{regexp.MustCompile(`(?i)(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`), "${1}." + redactedValue},

	// Credentials embedded in MongoDB connection strings
	{regexp.MustCompile(`(mongodb(?:\+srv)?://)[^@/\s]+@`), "${1}" + redactedValue + "@"},

	// Tokens in notification service URLs, e.g. telegram://token@telegram
	{regexp.MustCompile(`((?:telegram|discord|slack|teams|pushover|gotify|smtp|ntfy|matrix)://)[^@/\s]+@`), "${1}" + redactedValue + "@"},

	// API keys, tokens and secrets
	{regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s&]{5,})`), "${1}" + redactedValue},
}

// SensitiveKeywords are keywords that indicate fields may contain sensitive data
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "authorization", "dsn",
}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	for _, rule := range sensitiveDataRules {
		input = rule.pattern.ReplaceAllString(input, rule.replacement)
	}

	return input
}

// isSensitiveKey reports whether a field key names a secret
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitiveKey := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitiveKey) {
			return true
		}
	}
	return false
}
