package source

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// expandHomeForUser resolves ~ or ~/... to the specified user's home
// directory, falling back to the current user's.
func expandHomeForUser(path, username string) string {
	if path == "~" {
		path = "~/"
	}
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	if username != "" {
		if u, err := user.Lookup(username); err == nil {
			return filepath.Join(u.HomeDir, path[2:])
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// ignored reports whether the basename of path matches any pattern.
func ignored(path string, patterns []string) bool {
	name := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func fileEvent(ruleName, path, eventType string) Event {
	return NewEvent(ruleName, eventType, map[string]any{
		"file_path":  path,
		"file_name":  filepath.Base(path),
		"event_type": eventType,
	})
}

func eventSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
