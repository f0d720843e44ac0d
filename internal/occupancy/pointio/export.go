package pointio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// SanitizeFilename makes a safe file name from an arbitrary string. Runs of
// characters other than ASCII letters, digits, dot, underscore or dash
// collapse to one underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ExportPath resolves name to a file directly inside dir. Only the last
// path element of name is used, and the result must not escape dir after
// symlinks in dir are resolved.
func ExportPath(dir, name string) (string, error) {
	base := SanitizeFilename(filepath.Base(name))
	if !strings.HasSuffix(strings.ToLower(base), ".asc") {
		base += ".asc"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve export directory: %w", err)
	}
	canonDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", fmt.Errorf("export directory: %w", err)
	}
	p := filepath.Join(canonDir, base)
	rel, err := filepath.Rel(canonDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("export path escapes %s", dir)
	}
	return p, nil
}

// ExportASC writes points to a sanitized file name under dir and returns
// the path written.
func ExportASC(dir, name string, points []r3.Vec, header string) (string, error) {
	if len(points) == 0 {
		return "", fmt.Errorf("no points to export")
	}
	path, err := ExportPath(dir, name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteASC(f, points, header); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
