package cindex

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cindex/internal/cscope"
	"github.com/jward/cindex/internal/explore"
	"github.com/jward/cindex/internal/ingest"
	"github.com/jward/cindex/internal/store"
)

const fixtureAC = `#include "b.h"
static int helper(int x) { return x + 1; }
int main(void) { return helper(2); }
`

const fixtureBH = `#ifndef B_H
#define B_H
void b_api(void);
#endif
`

// fakeExtractor plays back what ctags reports for the fixture tree.
type fakeExtractor struct{}

func (fakeExtractor) ExtractRoot(_ context.Context, _ string, relPaths []string) (map[string][]store.Symbol, error) {
	return map[string][]store.Symbol{
		"a.c": {
			{Name: "helper", Type: "function", KindRaw: "function", FilePath: "a.c", LineNumber: 2,
				Signature: "(int x)", IsFileScope: store.FileScopeYes},
			{Name: "main", Type: "function", KindRaw: "function", FilePath: "a.c", LineNumber: 3,
				Signature: "(void)", IsFileScope: store.FileScopeNo},
		},
		"b.h": {
			{Name: "B_H", Type: "macro", KindRaw: "macro", FilePath: "b.h", LineNumber: 2},
			{Name: "b_api", Type: "function", KindRaw: "prototype", FilePath: "b.h", LineNumber: 3,
				Signature: "(void)"},
		},
	}, nil
}

// fakeXrefProvider plays back the scanner's line records for the fixture.
type fakeXrefProvider struct {
	builtWith []string
}

type fakeQuerier struct{}

func (fakeQuerier) Callees(_ context.Context, fn string) ([]cscope.Ref, error) {
	if fn == "main" {
		return []cscope.Ref{{File: "a.c", Function: "main", Line: 3, Text: "int main(void) { return helper(2); }"}}, nil
	}
	return nil, nil
}

func (fakeQuerier) Callers(_ context.Context, fn string) ([]cscope.Ref, error) {
	if fn == "helper" {
		return []cscope.Ref{{File: "a.c", Function: "main", Line: 3, Text: "int main(void) { return helper(2); }"}}, nil
	}
	return nil, nil
}

func (fakeQuerier) Includers(_ context.Context, header string) ([]cscope.Ref, error) {
	if header == "b.h" {
		return []cscope.Ref{{File: "a.c", Function: "<global>", Line: 1, Text: `#include "b.h"`}}, nil
	}
	return nil, nil
}

func (f *fakeXrefProvider) Build(_ context.Context, relPaths []string) (ingest.Querier, error) {
	f.builtWith = relPaths
	return fakeQuerier{}, nil
}

func (f *fakeXrefProvider) Open(_ context.Context) (ingest.Querier, error) {
	return fakeQuerier{}, nil
}

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.c"), []byte(fixtureAC), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.h"), []byte(fixtureBH), 0o644))
	return root
}

func newFixturePipeline(t *testing.T, root string) (*Pipeline, *fakeXrefProvider) {
	t.Helper()
	xref := &fakeXrefProvider{}
	p, err := New(filepath.Join(t.TempDir(), "data", "test.db"), root, nil,
		WithTagExtractor(fakeExtractor{}),
		WithXrefProvider(xref),
	)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, xref
}

func runAll(t *testing.T, p *Pipeline) *Summary {
	t.Helper()
	sum, err := p.Run(context.Background(), RunOptions{
		Force:       true,
		BuildXref:   true,
		IngestRefs:  true,
		ResolveRefs: true,
	})
	require.NoError(t, err)
	return sum
}

func TestRun_EndToEndFixture(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)
	p, xref := newFixturePipeline(t, root)
	sum := runAll(t, p)

	s := p.Store()

	// Both oracles saw the same canonical universe.
	assert.Equal(t, []string{"a.c", "b.h"}, xref.builtWith)

	// Files with content hashes.
	paths, err := s.FilePaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.c", "b.h"}, paths)

	var sha string
	require.NoError(t, s.DB().QueryRow("SELECT sha1 FROM files WHERE path='a.c'").Scan(&sha))
	assert.Equal(t, fmt.Sprintf("%x", sha1.Sum([]byte(fixtureAC))), sha)

	// Symbols with kinds and file scope.
	type nameType struct{ name, typ string }
	rows, err := s.DB().Query("SELECT name, type FROM symbols ORDER BY name")
	require.NoError(t, err)
	var got []nameType
	for rows.Next() {
		var nt nameType
		require.NoError(t, rows.Scan(&nt.name, &nt.typ))
		got = append(got, nt)
	}
	rows.Close()
	assert.Equal(t, []nameType{
		{"B_H", "macro"},
		{"b_api", "function"},
		{"helper", "function"},
		{"main", "function"},
	}, got)

	var fileScope string
	require.NoError(t, s.DB().QueryRow("SELECT is_file_scope FROM symbols WHERE name='helper'").Scan(&fileScope))
	assert.Equal(t, "yes", fileScope)
	require.NoError(t, s.DB().QueryRow("SELECT is_file_scope FROM symbols WHERE name='main'").Scan(&fileScope))
	assert.Equal(t, "no", fileScope)

	// Exactly one CALLS edge, main → helper in a.c.
	require.NotNil(t, sum.CallStats)
	assert.Equal(t, 1, sum.CallStats.ResolvedEdges)
	var srcName, dstName, edgeFile string
	require.NoError(t, s.DB().QueryRow(
		`SELECT src.name, dst.name, e.source_file FROM symbol_edges e
		 JOIN symbols src ON src.id = e.src_symbol_id
		 JOIN symbols dst ON dst.id = e.dst_symbol_id
		 WHERE e.edge_type = 'CALLS'`).Scan(&srcName, &dstName, &edgeFile))
	assert.Equal(t, "main", srcName)
	assert.Equal(t, "helper", dstName)
	assert.Equal(t, "a.c", edgeFile)

	// Exactly one INCLUDES edge, a.c → b.h at line 1.
	var src, dst string
	var line int
	require.NoError(t, s.DB().QueryRow(
		"SELECT src_file, dst_file, line_number FROM file_edges WHERE edge_type='INCLUDES'").
		Scan(&src, &dst, &line))
	assert.Equal(t, "a.c", src)
	assert.Equal(t, "b.h", dst)
	assert.Equal(t, 1, line)

	// Callers raw rows are retained as an audit channel, not edges.
	callers, err := s.RawReferencesByType(store.QueryCallers)
	require.NoError(t, err)
	assert.Len(t, callers, 1)
	edgeCount, err := s.CountRows("symbol_edges")
	require.NoError(t, err)
	assert.Equal(t, int64(1), edgeCount)

	// Metadata written last.
	v, err := s.GetMetadata("total_files")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	v, err = s.GetMetadata("source_root")
	require.NoError(t, err)
	assert.Equal(t, p.disc.Root(), v)
	v, err = s.GetMetadata("indexed_at")
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestRun_GraphInvariants(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)
	p, _ := newFixturePipeline(t, root)
	runAll(t, p)
	s := p.Store()

	// FTS row count matches symbols, and a search finds an inserted name.
	symCount, err := s.CountRows("symbols")
	require.NoError(t, err)
	ftsCount, err := s.CountRows("symbols_fts")
	require.NoError(t, err)
	assert.Equal(t, symCount, ftsCount)

	svc := explore.New(s)
	matches, err := svc.SearchSymbols("help", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "helper", matches[0].Name)
	assert.Equal(t, "name", matches[0].MatchedOn)

	// No anonymous leakage.
	var n int64
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM symbols
		 WHERE name LIKE '\_\_anon%' ESCAPE '\' OR scope_name LIKE '\_\_anon%' ESCAPE '\'`).Scan(&n))
	assert.Zero(t, n)

	// Children of the root: files, alphabetical.
	nodes, err := svc.Children("")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a.c", nodes[0].Name)
	assert.Equal(t, "b.h", nodes[1].Name)
}

// graphSnapshot captures run output modulo synthetic ids and timestamps.
func graphSnapshot(t *testing.T, s *store.Store) string {
	t.Helper()
	var snap string
	appendRows := func(query string) {
		rows, err := s.DB().Query(query)
		require.NoError(t, err)
		defer rows.Close()
		cols, err := rows.Columns()
		require.NoError(t, err)
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			require.NoError(t, rows.Scan(ptrs...))
			snap += fmt.Sprintln(vals...)
		}
	}
	appendRows("SELECT path, size, language, sha1 FROM files ORDER BY path")
	appendRows(`SELECT name, type, kind_raw, file_path, line_number, signature, is_file_scope
	            FROM symbols ORDER BY file_path, line_number, name`)
	appendRows(`SELECT e.edge_type, src.name, dst.name, e.source_file, e.line_number
	            FROM symbol_edges e
	            JOIN symbols src ON src.id = e.src_symbol_id
	            JOIN symbols dst ON dst.id = e.dst_symbol_id
	            ORDER BY src.name, dst.name`)
	appendRows("SELECT edge_type, src_file, dst_file, line_number FROM file_edges ORDER BY src_file, dst_file")
	return snap
}

func TestRun_IdempotentUnderForce(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)
	p, _ := newFixturePipeline(t, root)

	runAll(t, p)
	first := graphSnapshot(t, p.Store())

	runAll(t, p)
	second := graphSnapshot(t, p.Store())

	assert.Equal(t, first, second, "re-running on an unchanged tree must reproduce the graph")
}

func TestRun_CalleeCallerMirror(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)
	p, _ := newFixturePipeline(t, root)
	runAll(t, p)
	s := p.Store()

	// Every CALLS edge found via callees is visible from the callers
	// ingestion of its destination.
	callees, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	callers, err := s.RawReferencesByType(store.QueryCallers)
	require.NoError(t, err)

	require.Len(t, callees, 1)
	require.Len(t, callers, 1)
	assert.Equal(t, callees[0].SourceFile, callers[0].SourceFile)
	assert.Equal(t, callees[0].LineNumber, callers[0].LineNumber)
	assert.Equal(t, "main", callees[0].QuerySymbol)
	assert.Equal(t, "helper", callers[0].QuerySymbol)
}

func TestRun_SkipsReferenceStagesWhenBuildFails(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)

	p, err := New(filepath.Join(t.TempDir(), "data", "test.db"), root, nil,
		WithTagExtractor(fakeExtractor{}),
		WithXrefProvider(failingXref{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	sum, err := p.Run(context.Background(), RunOptions{Force: true, BuildXref: true, IngestRefs: true})
	require.NoError(t, err, "scanner failure is degraded, not fatal")
	assert.Equal(t, 2, sum.Files)

	n, err := p.Store().CountRows("raw_references")
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingXref struct{}

func (failingXref) Build(_ context.Context, _ []string) (ingest.Querier, error) {
	return nil, fmt.Errorf("cscope: executable file not found")
}

func (failingXref) Open(_ context.Context) (ingest.Querier, error) {
	return nil, fmt.Errorf("cscope database not found")
}

func TestNew_RunLockIsExclusive(t *testing.T) {
	t.Parallel()
	root := writeFixture(t)
	dbPath := filepath.Join(t.TempDir(), "locked.db")

	p1, err := New(dbPath, root, nil, WithTagExtractor(fakeExtractor{}))
	require.NoError(t, err)
	defer p1.Close()

	_, err = New(dbPath, root, nil, WithTagExtractor(fakeExtractor{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another indexing run")
}
