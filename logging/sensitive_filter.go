package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder is the string used to replace sensitive data
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns are compiled once at package initialization.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._~+/-]{8,}=*)`),
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),
	regexp.MustCompile(`(?i)(hf_[a-zA-Z0-9]{30,})`), // Hugging Face tokens show up in model download URLs

	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;&]{8,})`),
}

// sensitiveFieldNames are substrings of field names whose values are never logged.
var sensitiveFieldNames = []string{
	"AUTH_TOKEN",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"API_KEY",
}

// RedactSensitiveData replaces any detected credentials in value with
// RedactedPlaceholder.
//
// Example:
//
//	RedactSensitiveData("Authorization: Bearer abcdef123456")
//	// "Authorization: [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField returns true if the field name indicates sensitive data.
//
// Example:
//
//	IsSensitiveField("auth_token")  // true
//	IsSensitiveField("prompt_id")   // false
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)

	for _, name := range sensitiveFieldNames {
		if strings.Contains(upperName, name) {
			return true
		}
	}
	return false
}
