// internal/template/template.go
package template

import (
	"fmt"
	"regexp"

	"github.com/colebrumley/tapguard/internal/security"
)

var templateVar = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Expand replaces {{variable}} placeholders with sanitized values from data.
// Unknown variables are left as written.
func Expand(tmpl string, data map[string]any) string {
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if val, ok := data[name]; ok && val != nil {
			return security.SanitizeValue(fmt.Sprint(val))
		}
		return match
	})
}

// ExpandAll expands every element of args. Each element stays a single
// argument, so values containing spaces are never split.
func ExpandAll(args []string, data map[string]any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Expand(a, data)
	}
	return out
}
