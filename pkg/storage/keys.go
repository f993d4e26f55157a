package storage

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BuildKey returns a fresh storage key for an upload:
// uploads/<accountID>/<uuid>-<sanitized name>.
func BuildKey(accountID, filename string) string {
	name := SanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "file"
	}
	return path.Join("uploads", accountID, uuid.NewString()+"-"+name)
}

// SanitizeFilename keeps ASCII letters, digits, dot, dash and underscore and
// collapses every other run of characters into a single underscore.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
