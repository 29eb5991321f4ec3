package storage

import (
	"path/filepath"
	"strings"
)

// ProjectRecordPath returns the relative path of a project's aggregate record.
func ProjectRecordPath(name string) string {
	return filepath.Join("projects", SanitizeName(name), "project.json")
}

// ChangeLogPath returns the relative path of a project's append-only change log.
func ChangeLogPath(name string) string {
	return filepath.Join("projects", SanitizeName(name), "changelog.jsonl")
}

// ManuscriptPath returns the relative path for an exported manuscript.
func ManuscriptPath(name, format string) string {
	ext := "md"
	if format == "text" {
		ext = "txt"
	}
	return filepath.Join("projects", SanitizeName(name), "manuscript."+ext)
}

// SanitizeName converts a project name to a safe directory component: lower
// case, hyphens for spaces, and only alphanumerics and hyphens kept.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	s := b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if s == "" {
		s = "project"
	}
	return s
}
