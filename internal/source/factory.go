// internal/source/factory.go
package source

import (
	"fmt"

	"github.com/colebrumley/tapguard/internal/config"
)

// New creates a source based on the configuration type
func New(ruleName string, cfg config.Source, runAsUser string) (Source, error) {
	switch cfg.Type {
	case "filesystem":
		return NewFilesystem(ruleName, cfg, runAsUser)
	case "scheduled":
		return NewScheduled(ruleName, cfg)
	case "webhook":
		return NewWebhook(ruleName, cfg)
	case "lifecycle":
		return NewLifecycle(ruleName, cfg)
	case "manual":
		return NewManual(ruleName), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
