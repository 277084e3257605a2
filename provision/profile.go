package provision

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// defaultExcludeGlobs are cache-like profile entries that are large,
// regenerable, and frequently locked by a running browser.
var defaultExcludeGlobs = []string{
	"Cache*", "Code Cache", "GPUCache", "Service Worker", "ShaderCache",
}

// ProfileConfig describes a shadow-profile copy: the canonical profile
// stays untouched while the session runs against the working copy.
type ProfileConfig struct {
	// SourceDir is the canonical browser profile.
	SourceDir string
	// WorkDir is the disposable copy the session launches with. An
	// existing WorkDir is reused as-is.
	WorkDir string
	// ExcludeGlobs filters directory entries by base name. Defaults to
	// cache-like paths.
	ExcludeGlobs []string
}

// EnsureProfile clones SourceDir into WorkDir unless WorkDir already
// exists. Concurrent writers are not coordinated; the last writer wins,
// which is acceptable for a disposable copy.
func EnsureProfile(cfg ProfileConfig) error {
	if cfg.WorkDir == "" || cfg.SourceDir == "" {
		return fmt.Errorf("provision: profile source and work dirs are required")
	}
	if _, err := os.Stat(cfg.WorkDir); err == nil {
		return nil
	}
	if _, err := os.Stat(cfg.SourceDir); err != nil {
		return fmt.Errorf("provision: profile source %s: %w", cfg.SourceDir, err)
	}

	excludes := cfg.ExcludeGlobs
	if excludes == nil {
		excludes = defaultExcludeGlobs
	}

	if err := os.MkdirAll(filepath.Dir(cfg.WorkDir), 0o755); err != nil {
		return fmt.Errorf("provision: profile parent dir: %w", err)
	}
	return copyTree(cfg.SourceDir, cfg.WorkDir, excludes)
}

func excluded(name string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}

func copyTree(src, dst string, excludes []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != src && excluded(d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(out, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			// Profiles occasionally contain symlinks (e.g. SingletonLock
			// leftovers); skip rather than follow.
			return nil
		default:
			return copyFile(path, out)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("provision: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("provision: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("provision: copy %s: %w", src, err)
	}
	return nil
}
