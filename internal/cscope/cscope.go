// Package cscope adapts the cscope binary as the pipeline's cross-reference
// oracle: a builder that produces the binary database over the canonical
// file list, and a query client over the finished database.
//
// The database is always built and queried with cwd = source root, so every
// path cscope reports is relative to the same root the store uses.
package cscope

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBinary is the scanner looked up on PATH when none is configured.
const DefaultBinary = "cscope"

// ManifestName is the file list the scanner is built from.
const ManifestName = "cscope.files"

// DatabaseName is the scanner's binary output.
const DatabaseName = "cscope.out"

// Ref is one line-record query result: where a reference occurs.
type Ref struct {
	File     string // as reported; relative to the build cwd
	Function string // enclosing function, or "<global>"
	Line     int
	Text     string // raw source line
}

// DB is a handle to a built cscope database.
type DB struct {
	Bin     string
	Root    string // source root; cwd for every query
	OutPath string // absolute path to cscope.out
}

// Build writes the canonical path list to a manifest in outDir and invokes
// the scanner with cwd = root to produce outDir/cscope.out. Flags request a
// fast (-q), quoted, kernel-style (-k, no /usr/include) database.
func Build(ctx context.Context, bin, root, outDir string, relPaths []string) (*DB, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", outDir, err)
	}
	outDir = absOut
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	manifest := filepath.Join(outDir, ManifestName)
	if err := WriteManifest(manifest, relPaths); err != nil {
		return nil, err
	}

	outPath := filepath.Join(outDir, DatabaseName)
	cmd := exec.CommandContext(ctx, bin, "-b", "-q", "-k", "-i", manifest, "-f", outPath)
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("build cscope database: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return &DB{Bin: bin, Root: root, OutPath: outPath}, nil
}

// WriteManifest writes one path per line. Paths containing spaces are
// quoted, matching the scanner's quoted-database expectations.
func WriteManifest(path string, relPaths []string) error {
	var buf bytes.Buffer
	for _, p := range relPaths {
		if strings.ContainsAny(p, " \t") {
			fmt.Fprintf(&buf, "%q\n", p)
		} else {
			buf.WriteString(p)
			buf.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Open returns a handle to an already-built database, verifying it exists.
func Open(bin, root, outPath string) (*DB, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	if abs, err := filepath.Abs(outPath); err == nil {
		outPath = abs
	}
	if _, err := os.Stat(outPath); err != nil {
		return nil, fmt.Errorf("cscope database not found: %s (run the indexer with --build-cscope)", outPath)
	}
	return &DB{Bin: bin, Root: root, OutPath: outPath}, nil
}

// Query field numbers from cscope's line-oriented interface.
const (
	queryCallees   = 2 // functions called by this function
	queryCallers   = 3 // functions calling this function
	queryIncluders = 8 // files #including this file
)

// Callees returns the functions called by fn.
func (d *DB) Callees(ctx context.Context, fn string) ([]Ref, error) {
	return d.run(ctx, queryCallees, fn)
}

// Callers returns the functions that call fn.
func (d *DB) Callers(ctx context.Context, fn string) ([]Ref, error) {
	return d.run(ctx, queryCallers, fn)
}

// Includers returns the files that #include the named header. cscope
// matches on basename, so callers pass "power.h", not "include/power.h".
func (d *DB) Includers(ctx context.Context, header string) ([]Ref, error) {
	return d.run(ctx, queryIncluders, header)
}

func (d *DB) run(ctx context.Context, field int, symbol string) ([]Ref, error) {
	cmd := exec.CommandContext(ctx, d.Bin, "-d", "-f", d.OutPath, "-L", fmt.Sprintf("-%d", field), symbol)
	cmd.Dir = d.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Non-zero exit with empty stderr means "no results".
		if stderr.Len() == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("cscope -%d %q: %w: %s", field, symbol, err, strings.TrimSpace(stderr.String()))
	}
	return ParseOutput(stdout.String()), nil
}

// ParseOutput parses line records of the form
//
//	file function line rest-of-line
//
// splitting on whitespace at most three times so the source line text stays
// intact. Malformed lines are skipped.
func ParseOutput(out string) []Ref {
	var refs []Ref
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		ref, ok := parseLine(line)
		if !ok {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func parseLine(line string) (Ref, bool) {
	file, rest := nextField(line)
	function, rest := nextField(rest)
	lineNo, text := nextField(rest)
	if file == "" || function == "" || lineNo == "" {
		return Ref{}, false
	}
	n, err := strconv.Atoi(lineNo)
	if err != nil {
		return Ref{}, false
	}
	return Ref{File: file, Function: function, Line: n, Text: text}, true
}

// nextField splits off the first whitespace-delimited field, leaving the
// remainder with leading whitespace trimmed.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}
