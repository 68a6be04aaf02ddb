// Package discover finds the source files an indexing run operates on.
//
// Every stage that hands paths to the tag extractor or the cross-reference
// scanner uses the same discovery output, so the two oracles and the store
// agree on one file universe.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions is the extension filter applied when none is given.
var DefaultExtensions = []string{".c", ".h"}

// DefaultIgnoreDirs are directory names skipped during discovery. A file is
// ignored iff any component of its relative path equals one of these.
var DefaultIgnoreDirs = []string{
	".git",
	"__pycache__",
	"out",
	"build",
	"dist",
	"node_modules",
	".venv",
	"venv",
	".pytest_cache",
}

// Discoverer walks a source root applying extension and ignore filters.
type Discoverer struct {
	root       string // absolute
	extensions map[string]bool
	ignoreDirs map[string]bool
}

// New creates a Discoverer for sourceRoot. The root is resolved to an
// absolute path once; it must exist and be a directory. Empty extension or
// ignore lists fall back to the defaults.
func New(sourceRoot string, extensions, ignoreDirs []string) (*Discoverer, error) {
	abs, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve source root %q: %w", sourceRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}

	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if len(ignoreDirs) == 0 {
		ignoreDirs = DefaultIgnoreDirs
	}

	d := &Discoverer{
		root:       abs,
		extensions: make(map[string]bool, len(extensions)),
		ignoreDirs: make(map[string]bool, len(ignoreDirs)),
	}
	for _, ext := range extensions {
		d.extensions[ext] = true
	}
	for _, dir := range ignoreDirs {
		d.ignoreDirs[dir] = true
	}
	return d, nil
}

// Root returns the resolved absolute source root.
func (d *Discoverer) Root() string {
	return d.root
}

// Files walks the root and returns matching files as sorted canonical
// relative POSIX paths, with a parallel slice of absolute paths for I/O.
// Extension matching is case-sensitive.
func (d *Discoverer) Files() (rel []string, abs []string, err error) {
	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			if path != d.root && d.ignoreDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.extensions[filepath.Ext(path)] {
			return nil
		}
		relPath, err := filepath.Rel(d.root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		rel = append(rel, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", d.root, err)
	}

	sort.Strings(rel)
	abs = make([]string, len(rel))
	for i, r := range rel {
		abs[i] = filepath.Join(d.root, filepath.FromSlash(r))
	}
	return rel, abs, nil
}

// Canonicalize converts a path reported by an external tool to the
// canonical relative-POSIX form. Already-relative paths are kept (slashes
// normalized); absolute paths are made relative to the root.
func (d *Discoverer) Canonicalize(p string) string {
	return Canonicalize(d.root, p)
}

// Canonicalize is the package-level form of Discoverer.Canonicalize.
func Canonicalize(root, p string) string {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Outside the root: keep as-is rather than invent a relative form.
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
