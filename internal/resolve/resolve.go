// Package resolve turns staged raw references into typed graph edges. The
// tag symbols are the ground truth; the scanner rows are evidence that must
// be mapped onto them, with every miss classified and counted rather than
// treated as a failure.
package resolve

import (
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/jward/cindex/internal/store"
)

// calleePattern matches a C identifier immediately followed by an opening
// paren. Deliberately simple: the scanner has already narrowed every line
// to a known call site inside a known function.
var calleePattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// cKeywords are excluded from callee extraction.
var cKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"return": true, "sizeof": true, "typeof": true, "do": true,
	"else": true, "case": true, "break": true, "continue": true,
	"goto": true, "default": true,
}

// Unresolved reason classes.
const (
	ReasonNoCallee     = "no_callee_in_line"
	ReasonSrcNotFound  = "src_not_found"
	ReasonDstAmbiguous = "dst_not_found_or_ambiguous"
	ReasonNoHeader     = "unresolved_header"
	ReasonHeaderAmbig  = "ambiguous_header"
)

// Stats summarizes one resolution pass.
type Stats struct {
	TotalRaw      int
	ResolvedEdges int
	Unresolved    map[string]int
}

func newStats() Stats {
	return Stats{Unresolved: make(map[string]int)}
}

func (st *Stats) miss(reason string) {
	st.Unresolved[reason]++
}

// Render writes the stats as an aligned table.
func (st Stats) Render(w io.Writer, title string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", title)
	fmt.Fprintf(tw, "  total raw references\t%d\n", st.TotalRaw)
	fmt.Fprintf(tw, "  resolved edges\t%d\n", st.ResolvedEdges)

	reasons := make([]string, 0, len(st.Unresolved))
	for r := range st.Unresolved {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(tw, "  %s\t%d\n", r, st.Unresolved[r])
	}
	if st.TotalRaw > 0 {
		rate := float64(st.ResolvedEdges) / float64(st.TotalRaw) * 100
		fmt.Fprintf(tw, "  resolution rate\t%.1f%%\n", rate)
	}
	tw.Flush()
}

// Options tune resolver heuristics.
type Options struct {
	// SkipUpperIdents excludes ALL-CAPS identifiers longer than two
	// characters from callee extraction, treating them as macro-ish.
	// Off by default.
	SkipUpperIdents bool
}

// Resolver maps raw references onto symbol and file ids.
type Resolver struct {
	store *store.Store
	opts  Options
}

// New creates a Resolver over the given store.
func New(s *store.Store, opts Options) *Resolver {
	return &Resolver{store: s, opts: opts}
}

// candidate is one function symbol a name could refer to.
type candidate struct {
	id       int64
	filePath string
}

// ResolveCalls converts callees raw rows into CALLS symbol edges.
func (r *Resolver) ResolveCalls() (Stats, error) {
	stats := newStats()

	fns, err := r.store.Functions()
	if err != nil {
		return stats, err
	}
	byName := make(map[string][]candidate, len(fns))
	for _, fn := range fns {
		byName[fn.Name] = append(byName[fn.Name], candidate{id: fn.ID, filePath: fn.FilePath})
	}

	raws, err := r.store.RawReferencesByType(store.QueryCallees)
	if err != nil {
		return stats, err
	}
	stats.TotalRaw = len(raws)

	var edges []store.SymbolEdge
	for _, raw := range raws {
		callee := r.extractCallee(raw.LineText)
		if callee == "" {
			stats.miss(ReasonNoCallee)
			continue
		}

		srcID, ok := resolveSrc(byName[raw.QuerySymbol], raw.SourceFile)
		if !ok {
			stats.miss(ReasonSrcNotFound)
			continue
		}

		dstID, ok := resolveDst(byName[callee], raw.SourceFile)
		if !ok {
			stats.miss(ReasonDstAmbiguous)
			continue
		}

		edges = append(edges, store.SymbolEdge{
			EdgeType:    store.EdgeCalls,
			SrcSymbolID: srcID,
			DstSymbolID: dstID,
			SourceFile:  raw.SourceFile,
			LineNumber:  raw.LineNumber,
		})
	}

	if len(edges) > 0 {
		if _, err := r.store.InsertSymbolEdges(edges); err != nil {
			return stats, err
		}
	}
	stats.ResolvedEdges = len(edges)
	return stats, nil
}

// extractCallee returns the first IDENT( match that is not a C control
// keyword, or "" when the line has no plausible call site.
func (r *Resolver) extractCallee(lineText string) string {
	for _, m := range calleePattern.FindAllStringSubmatch(lineText, -1) {
		ident := m[1]
		if cKeywords[ident] {
			continue
		}
		if r.opts.SkipUpperIdents && len(ident) > 2 && isUpperIdent(ident) {
			continue
		}
		return ident
	}
	return ""
}

// isUpperIdent reports whether ident has at least one letter and none of
// them lowercase.
func isUpperIdent(ident string) bool {
	hasLetter := false
	for _, c := range ident {
		if unicode.IsLower(c) {
			return false
		}
		if unicode.IsLetter(c) {
			hasLetter = true
		}
	}
	return hasLetter
}

// resolveSrc maps the queried caller name to a symbol id: unique match
// wins, then same-file preference; otherwise unresolved.
func resolveSrc(cands []candidate, sourceFile string) (int64, bool) {
	switch len(cands) {
	case 0:
		return 0, false
	case 1:
		return cands[0].id, true
	}
	for _, c := range cands {
		if c.filePath == sourceFile {
			return c.id, true
		}
	}
	return 0, false
}

// resolveDst maps the extracted callee name to a symbol id. The ladder:
// unique match, then same-file, then the single .c candidate (a definition
// beats header declarations); anything else stays unresolved.
func resolveDst(cands []candidate, sourceFile string) (int64, bool) {
	switch len(cands) {
	case 0:
		return 0, false
	case 1:
		return cands[0].id, true
	}
	for _, c := range cands {
		if c.filePath == sourceFile {
			return c.id, true
		}
	}
	var cFiles []candidate
	for _, c := range cands {
		if strings.HasSuffix(c.filePath, ".c") {
			cFiles = append(cFiles, c)
		}
	}
	if len(cFiles) == 1 {
		return cFiles[0].id, true
	}
	return 0, false
}

// ResolveIncludes converts includes raw rows into INCLUDES file edges.
// The queried symbol is usually a header basename; it resolves to a
// canonical path only when exactly one file matches.
func (r *Resolver) ResolveIncludes() (Stats, error) {
	stats := newStats()

	paths, err := r.store.FilePaths()
	if err != nil {
		return stats, err
	}
	pathSet := make(map[string]bool, len(paths))
	byBase := make(map[string][]string)
	for _, p := range paths {
		pathSet[p] = true
		byBase[path.Base(p)] = append(byBase[path.Base(p)], p)
	}

	raws, err := r.store.RawReferencesByType(store.QueryIncludes)
	if err != nil {
		return stats, err
	}
	stats.TotalRaw = len(raws)

	var edges []store.FileEdge
	for _, raw := range raws {
		if !pathSet[raw.SourceFile] {
			// Includer outside the indexed universe; an edge from it
			// would violate referential integrity.
			stats.miss(ReasonNoHeader)
			continue
		}

		dst, reason := resolveHeader(raw.QuerySymbol, pathSet, byBase)
		if reason != "" {
			stats.miss(reason)
			continue
		}

		edges = append(edges, store.FileEdge{
			EdgeType:   store.EdgeIncludes,
			SrcFile:    raw.SourceFile,
			DstFile:    dst,
			LineNumber: raw.LineNumber,
		})
	}

	if len(edges) > 0 {
		if _, err := r.store.InsertFileEdges(edges); err != nil {
			return stats, err
		}
	}
	stats.ResolvedEdges = len(edges)
	return stats, nil
}

// resolveHeader maps a queried header name to a canonical path. A name
// containing '/' is a path candidate and must match exactly. A bare
// basename matches by trailing-segment equality; zero matches is
// unresolved, more than one is ambiguous.
func resolveHeader(symbol string, pathSet map[string]bool, byBase map[string][]string) (string, string) {
	if strings.Contains(symbol, "/") {
		if pathSet[symbol] {
			return symbol, ""
		}
		return "", ReasonNoHeader
	}

	matches := byBase[symbol]
	if pathSet[symbol] && !containsString(matches, symbol) {
		matches = append(matches, symbol)
	}
	switch len(matches) {
	case 0:
		return "", ReasonNoHeader
	case 1:
		return matches[0], ""
	default:
		return "", ReasonHeaderAmbig
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
