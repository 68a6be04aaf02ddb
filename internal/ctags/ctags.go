// Package ctags adapts Universal Ctags as the pipeline's tag oracle. The
// extractor is invoked once over the whole canonical file list and its
// line-delimited JSON output is normalized into store symbols.
package ctags

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/jward/cindex/internal/store"
)

// DefaultBinary is the extractor looked up on PATH when none is configured.
const DefaultBinary = "ctags"

// Tag is one raw record from the extractor's JSON output.
type Tag struct {
	Type      string `json:"_type"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
	Path      string `json:"path"`
	Signature string `json:"signature"`
	Typeref   string `json:"typeref"`
	Scope     string `json:"scope"`
	ScopeKind string `json:"scopeKind"`
	File      *bool  `json:"file"`
	Extras    string `json:"extras"`
}

// kindMap normalizes extractor kinds to the stored symbol type set.
// Unknown kinds pass through as the raw string.
var kindMap = map[string]string{
	"function":   "function",
	"prototype":  "function",
	"variable":   "variable",
	"struct":     "struct",
	"union":      "union",
	"enum":       "enum",
	"enumerator": "enumerator",
	"typedef":    "typedef",
	"macro":      "macro",
	"member":     "member",
	"header":     "header",
}

const anonPrefix = "__anon"

// Runner invokes the extractor binary.
type Runner struct {
	Bin string
}

// NewRunner returns a Runner for the given binary, defaulting to "ctags".
func NewRunner(bin string) *Runner {
	if bin == "" {
		bin = DefaultBinary
	}
	return &Runner{Bin: bin}
}

// ExtractRoot runs the extractor once with cwd = root, feeding the canonical
// relative paths on stdin so the output paths already match canonical form.
// Returns canonical path → symbols. A missing binary or non-zero exit is an
// error for the caller to downgrade; parse errors in individual lines are
// skipped silently.
func (r *Runner) ExtractRoot(ctx context.Context, root string, relPaths []string) (map[string][]store.Symbol, error) {
	cmd := exec.CommandContext(ctx, r.Bin,
		"--output-format=json",
		"--fields=+nKSztfE", // line, kind, signature, typeref, file-scope, extras
		"--c-kinds=+p",      // include function prototypes
		"-f", "-",
		"-L", "-",
	)
	cmd.Dir = root
	cmd.Stdin = strings.NewReader(strings.Join(relPaths, "\n"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", r.Bin, err, strings.TrimSpace(stderr.String()))
	}

	tags, err := ParseTags(&stdout)
	if err != nil {
		return nil, fmt.Errorf("parse %s output: %w", r.Bin, err)
	}
	return Normalize(tags), nil
}

// ParseTags reads line-delimited JSON tag records. Blank lines, metadata
// lines starting with '!', malformed JSON, and non-tag records are skipped.
func ParseTags(r io.Reader) ([]Tag, error) {
	scanner := bufio.NewScanner(r)
	// Signatures on generated code can run long.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tags []Tag
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		var tag Tag
		if err := json.Unmarshal([]byte(line), &tag); err != nil {
			continue
		}
		if tag.Type != "" && tag.Type != "tag" {
			continue
		}
		if tag.Name == "" || tag.Kind == "" {
			continue
		}
		tags = append(tags, tag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan tags: %w", err)
	}
	return tags, nil
}

// Normalize converts raw tags into symbols keyed by canonical path, using
// two passes over the tag stream. Pass 1 maps anonymous aggregate names to
// their typedef names; the extractor emits the typedef before or after the
// aggregate unpredictably, so the map must be complete before any symbol is
// emitted. Pass 2 produces the symbol records.
func Normalize(tags []Tag) map[string][]store.Symbol {
	anonToTypedef := make(map[string]string)
	for _, tag := range tags {
		if tag.Kind != "typedef" {
			continue
		}
		if _, target, ok := splitAggregateTyperef(tag.Typeref); ok && strings.HasPrefix(target, anonPrefix) {
			anonToTypedef[target] = tag.Name
		}
	}

	out := make(map[string][]store.Symbol)
	for _, tag := range tags {
		sym, ok := normalizeTag(tag, anonToTypedef)
		if !ok {
			continue
		}
		key := filePathKey(tag.Path)
		out[key] = append(out[key], sym)
	}
	return out
}

func normalizeTag(tag Tag, anonToTypedef map[string]string) (store.Symbol, bool) {
	if strings.HasPrefix(tag.Name, anonPrefix) {
		return store.Symbol{}, false
	}

	symType := normalizeKind(tag.Kind, tag.Typeref)

	signature := tag.Signature
	if signature == "" && symType == "function" {
		if tag.Typeref != "" {
			signature = tag.Typeref + " " + tag.Name + "()"
		} else {
			signature = tag.Name + "()"
		}
	}

	scopeKind, scopeName, scope := resolveScope(tag, anonToTypedef)

	return store.Symbol{
		Name:        tag.Name,
		Type:        symType,
		KindRaw:     tag.Kind,
		FilePath:    filePathKey(tag.Path),
		LineNumber:  tag.Line,
		Signature:   signature,
		Typeref:     tag.Typeref,
		Scope:       scope,
		ScopeKind:   scopeKind,
		ScopeName:   scopeName,
		IsFileScope: fileScopeOf(tag),
	}, true
}

// normalizeKind applies the typedef-of-aggregate rewrite, then the fixed
// kind map, passing unknown kinds through raw.
func normalizeKind(kind, typeref string) string {
	if kind == "typedef" {
		if agg, _, ok := splitAggregateTyperef(typeref); ok {
			return agg
		}
	}
	if mapped, ok := kindMap[kind]; ok {
		return mapped
	}
	return kind
}

// splitAggregateTyperef splits "struct:name" / "union:name" / "enum:name".
func splitAggregateTyperef(typeref string) (aggregate, name string, ok bool) {
	for _, agg := range []string{"struct", "union", "enum"} {
		if rest, found := strings.CutPrefix(typeref, agg+":"); found {
			return agg, rest, true
		}
	}
	return "", "", false
}

// resolveScope rewrites anonymous aggregate scopes to their typedef names.
// A scope still anonymous after the rewrite is dropped entirely so __anon
// names never reach the store.
func resolveScope(tag Tag, anonToTypedef map[string]string) (scopeKind, scopeName, scope string) {
	name := tag.Scope
	if name == "" {
		return "", "", "global"
	}
	if strings.HasPrefix(name, anonPrefix) {
		if mapped, ok := anonToTypedef[name]; ok {
			name = mapped
		}
	}
	if strings.HasPrefix(name, anonPrefix) {
		return "", "", "global"
	}
	if tag.ScopeKind != "" {
		return tag.ScopeKind, name, tag.ScopeKind + ":" + name
	}
	return "", name, name
}

// fileScopeOf prefers the extractor's boolean file field, falls back to
// scanning extras, and otherwise reports unknown.
func fileScopeOf(tag Tag) store.FileScope {
	if tag.File != nil {
		if *tag.File {
			return store.FileScopeYes
		}
		return store.FileScopeNo
	}
	if tag.Extras != "" {
		if strings.Contains(tag.Extras, "fileScope") {
			return store.FileScopeYes
		}
	}
	return store.FileScopeUnknown
}

func filePathKey(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
