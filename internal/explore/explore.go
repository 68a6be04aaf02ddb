// Package explore is the read-only query service over a finished graph:
// file-tree navigation, file and symbol search, and call/include traversal.
// It is a thin reader; it never writes the store.
package explore

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jward/cindex/internal/store"
)

// Service answers explorer queries against one project database.
type Service struct {
	store *store.Store
}

// New creates a Service over an opened store.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Root describes the project's logical root directory.
type Root struct {
	PhysicalPath  string `json:"physical_path"`
	Path          string `json:"path"` // logical root is always ""
	IsDir         bool   `json:"is_dir"`
	ChildrenCount int    `json:"children_count"`
	TotalFiles    int64  `json:"total_files"`
	TotalSymbols  int64  `json:"total_symbols"`
	IndexedAt     string `json:"indexed_at"`
}

// Node is one entry in a directory listing.
type Node struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// FileMatch is one ranked file-search result.
type FileMatch struct {
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// SymbolMatch is one symbol-search result with the column that matched.
type SymbolMatch struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Signature  string `json:"signature,omitempty"`
	MatchedOn  string `json:"matched_on"` // name | signature | file_path
}

// CallEdge is one resolved call relationship, named from the perspective
// of the queried symbol.
type CallEdge struct {
	SymbolID   int64  `json:"symbol_id"`
	Name       string `json:"name"`
	SourceFile string `json:"source_file"`
	LineNumber int    `json:"line_number"`
}

// IncludeEdge is one resolved include relationship.
type IncludeEdge struct {
	File       string `json:"file"`
	LineNumber int    `json:"line_number"`
}

// Root returns project root metadata from the metadata and files tables.
func (s *Service) Root() (*Root, error) {
	totalFiles, err := metaInt(s.store, "total_files")
	if err != nil {
		return nil, err
	}
	totalSymbols, err := metaInt(s.store, "total_symbols")
	if err != nil {
		return nil, err
	}
	sourceRoot, err := s.store.GetMetadata("source_root")
	if err != nil {
		return nil, err
	}
	indexedAt, err := s.store.GetMetadata("indexed_at")
	if err != nil {
		return nil, err
	}
	children, err := s.Children("")
	if err != nil {
		return nil, err
	}
	return &Root{
		PhysicalPath:  sourceRoot,
		Path:          "",
		IsDir:         true,
		ChildrenCount: len(children),
		TotalFiles:    totalFiles,
		TotalSymbols:  totalSymbols,
		IndexedAt:     indexedAt,
	}, nil
}

// Children lists the immediate children of a logical directory:
// directories first, then files, both alphabetical. The root is "".
func (s *Service) Children(dir string) ([]Node, error) {
	dir = strings.Trim(dir, "/")
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	paths, err := s.store.FilePaths()
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]bool)
	var files []string
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			dirs[rest[:i]] = true
		} else if rest != "" {
			files = append(files, rest)
		}
	}

	var nodes []Node
	for d := range dirs {
		nodes = append(nodes, Node{Name: d, Path: prefix + d, IsDir: true})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	sort.Strings(files)
	for _, f := range files {
		nodes = append(nodes, Node{Name: f, Path: prefix + f, IsDir: false})
	}
	return nodes, nil
}

// SearchFiles ranks files against q over both path and basename:
// basename-exact beats basename-prefix beats basename-substring beats
// path-substring. Ties break alphabetically.
func (s *Service) SearchFiles(q string, limit int) ([]FileMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	paths, err := s.store.FilePaths()
	if err != nil {
		return nil, err
	}

	lq := strings.ToLower(q)
	var matches []FileMatch
	for _, p := range paths {
		base := strings.ToLower(path.Base(p))
		lp := strings.ToLower(p)
		var score int
		switch {
		case base == lq:
			score = 100
		case strings.HasPrefix(base, lq):
			score = 80
		case strings.Contains(base, lq):
			score = 60
		case strings.Contains(lp, lq):
			score = 40
		default:
			continue
		}
		matches = append(matches, FileMatch{Path: p, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Path < matches[j].Path
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SearchSymbols runs a prefix match against the FTS index over symbol
// names, signatures, and file paths, reporting which column matched.
func (s *Service) SearchSymbols(q string, limit int) ([]SymbolMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.store.DB().Query(
		`SELECT s.id, s.name, s.type, s.file_path, s.line_number, COALESCE(s.signature, '')
		 FROM symbols_fts f
		 JOIN symbols s ON s.id = f.rowid
		 WHERE symbols_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`, ftsPrefixQuery(q), limit)
	if err != nil {
		return nil, fmt.Errorf("symbol search: %w", err)
	}
	defer rows.Close()

	var out []SymbolMatch
	for rows.Next() {
		var m SymbolMatch
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &m.FilePath, &m.LineNumber, &m.Signature); err != nil {
			return nil, fmt.Errorf("scan symbol match: %w", err)
		}
		m.MatchedOn = matchContext(m, q)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsPrefixQuery quotes the user string and appends the prefix operator so
// "help" matches "helper". Embedded quotes are doubled per FTS5 syntax.
func ftsPrefixQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"*`
}

// matchContext reports which indexed column a hit came from, preferring
// name over signature over file path.
func matchContext(m SymbolMatch, q string) string {
	lq := strings.ToLower(q)
	switch {
	case strings.Contains(strings.ToLower(m.Name), lq):
		return "name"
	case strings.Contains(strings.ToLower(m.Signature), lq):
		return "signature"
	default:
		return "file_path"
	}
}

// SymbolsInFile linearly matches name and signature for symbols defined in
// one file. An empty q returns every symbol in the file.
func (s *Service) SymbolsInFile(filePath, q string) ([]store.Symbol, error) {
	syms, err := s.store.SymbolsByFile(filePath)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return syms, nil
	}
	lq := strings.ToLower(q)
	var out []store.Symbol
	for _, sym := range syms {
		if strings.Contains(strings.ToLower(sym.Name), lq) ||
			strings.Contains(strings.ToLower(sym.Signature), lq) {
			out = append(out, sym)
		}
	}
	return out, nil
}

// Callees returns what the given function calls, by line number.
func (s *Service) Callees(symbolID int64) ([]CallEdge, error) {
	return s.callEdges(
		`SELECT dst.id, dst.name, COALESCE(e.source_file, ''), COALESCE(e.line_number, 0)
		 FROM symbol_edges e
		 JOIN symbols dst ON e.dst_symbol_id = dst.id
		 WHERE e.edge_type = ? AND e.src_symbol_id = ?
		 ORDER BY e.line_number`, symbolID)
}

// Callers returns who calls the given function, by caller name.
func (s *Service) Callers(symbolID int64) ([]CallEdge, error) {
	return s.callEdges(
		`SELECT src.id, src.name, COALESCE(e.source_file, ''), COALESCE(e.line_number, 0)
		 FROM symbol_edges e
		 JOIN symbols src ON e.src_symbol_id = src.id
		 WHERE e.edge_type = ? AND e.dst_symbol_id = ?
		 ORDER BY src.name, e.line_number`, symbolID)
}

func (s *Service) callEdges(query string, symbolID int64) ([]CallEdge, error) {
	rows, err := s.store.DB().Query(query, store.EdgeCalls, symbolID)
	if err != nil {
		return nil, fmt.Errorf("call edges: %w", err)
	}
	defer rows.Close()

	var out []CallEdge
	for rows.Next() {
		var e CallEdge
		if err := rows.Scan(&e.SymbolID, &e.Name, &e.SourceFile, &e.LineNumber); err != nil {
			return nil, fmt.Errorf("scan call edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Includes returns the headers a file includes, by line number.
func (s *Service) Includes(filePath string) ([]IncludeEdge, error) {
	return s.includeEdges(
		`SELECT dst_file, COALESCE(line_number, 0) FROM file_edges
		 WHERE edge_type = ? AND src_file = ? ORDER BY line_number`, filePath)
}

// Includers returns the files that include a header, alphabetical.
func (s *Service) Includers(filePath string) ([]IncludeEdge, error) {
	return s.includeEdges(
		`SELECT src_file, COALESCE(line_number, 0) FROM file_edges
		 WHERE edge_type = ? AND dst_file = ? ORDER BY src_file`, filePath)
}

func (s *Service) includeEdges(query, filePath string) ([]IncludeEdge, error) {
	rows, err := s.store.DB().Query(query, store.EdgeIncludes, filePath)
	if err != nil {
		return nil, fmt.Errorf("include edges: %w", err)
	}
	defer rows.Close()

	var out []IncludeEdge
	for rows.Next() {
		var e IncludeEdge
		if err := rows.Scan(&e.File, &e.LineNumber); err != nil {
			return nil, fmt.Errorf("scan include edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarizes the graph for the stats command and endpoint.
type Stats struct {
	Files        int64            `json:"files"`
	Symbols      int64            `json:"symbols"`
	SymbolTypes  map[string]int64 `json:"symbol_types"`
	CallEdges    int64            `json:"call_edges"`
	IncludeEdges int64            `json:"include_edges"`
	RawRefs      int64            `json:"raw_references"`
}

// Stats computes table and per-type counts.
func (s *Service) Stats() (*Stats, error) {
	st := &Stats{SymbolTypes: make(map[string]int64)}
	var err error
	if st.Files, err = s.store.CountRows("files"); err != nil {
		return nil, err
	}
	if st.Symbols, err = s.store.CountRows("symbols"); err != nil {
		return nil, err
	}
	if st.RawRefs, err = s.store.CountRows("raw_references"); err != nil {
		return nil, err
	}
	if err := s.store.DB().QueryRow(
		"SELECT COUNT(*) FROM symbol_edges WHERE edge_type = ?", store.EdgeCalls).Scan(&st.CallEdges); err != nil {
		return nil, fmt.Errorf("count call edges: %w", err)
	}
	if err := s.store.DB().QueryRow(
		"SELECT COUNT(*) FROM file_edges WHERE edge_type = ?", store.EdgeIncludes).Scan(&st.IncludeEdges); err != nil {
		return nil, fmt.Errorf("count include edges: %w", err)
	}
	typeCounts, err := s.store.SymbolTypeCounts()
	if err != nil {
		return nil, err
	}
	for _, tc := range typeCounts {
		st.SymbolTypes[tc.Type] = tc.Count
	}
	return st, nil
}

func metaInt(s *store.Store, key string) (int64, error) {
	v, err := s.GetMetadata(key)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil // tolerate junk metadata rather than fail a read
	}
	return n, nil
}
