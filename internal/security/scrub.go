package security

import "regexp"

var scrubRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)\bBearer\s+\S{8,}`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|secret|api[_-]?key)(\s*[=:]\s*)\S+`), "${1}${2}[REDACTED]"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`), "[REDACTED]"},
}

// ScrubOutput redacts credentials from action output before it is stored.
func ScrubOutput(output string) string {
	for _, r := range scrubRules {
		output = r.pattern.ReplaceAllString(output, r.repl)
	}
	return output
}
