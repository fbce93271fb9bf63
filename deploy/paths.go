package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveContained canonicalizes target and verifies it stays inside root.
// Symlinks in existing path segments are resolved first, so a link pointing
// out of the work dir cannot smuggle a deployment outside it.
func ResolveContained(root, target string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = resolved
	}

	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", target, err)
	}
	targetAbs = resolveExisting(targetAbs)

	if targetAbs != rootAbs && !strings.HasPrefix(targetAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes work dir %s", target, root)
	}
	return targetAbs, nil
}

// resolveExisting resolves symlinks for the longest existing prefix of path
// and re-joins the rest. The target of a first deployment does not exist
// yet, so EvalSymlinks on the full path is not enough.
func resolveExisting(path string) string {
	remainder := ""
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// FileMapping is one parsed "source:destination" entry. A trailing path
// separator on either side marks a directory copy.
type FileMapping struct {
	Src string
	Dst string
	Dir bool
}

// ParseFileMapping splits a "source:destination" entry. Only the first
// colon separates, so destinations may contain colons.
func ParseFileMapping(mapping string) (FileMapping, error) {
	parts := strings.SplitN(mapping, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FileMapping{}, fmt.Errorf("invalid file mapping %q, expected source:destination", mapping)
	}
	return FileMapping{
		Src: parts[0],
		Dst: parts[1],
		Dir: strings.HasSuffix(parts[0], "/") || strings.HasSuffix(parts[1], "/"),
	}, nil
}

// copyFile copies src to dst, creating parent directories and preserving
// the source mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// copyDir copies a directory tree, preserving file modes.
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}
