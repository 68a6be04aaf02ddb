package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cindex/internal/cscope"
	"github.com/jward/cindex/internal/store"
)

// fakeXref answers queries from canned maps; names in failOn error out.
type fakeXref struct {
	callees   map[string][]cscope.Ref
	callers   map[string][]cscope.Ref
	includers map[string][]cscope.Ref
	failOn    map[string]bool
}

func (f *fakeXref) answer(m map[string][]cscope.Ref, name string) ([]cscope.Ref, error) {
	if f.failOn[name] {
		return nil, errors.New("query exploded")
	}
	return m[name], nil
}

func (f *fakeXref) Callees(_ context.Context, fn string) ([]cscope.Ref, error) {
	return f.answer(f.callees, fn)
}

func (f *fakeXref) Callers(_ context.Context, fn string) ([]cscope.Ref, error) {
	return f.answer(f.callers, fn)
}

func (f *fakeXref) Includers(_ context.Context, header string) ([]cscope.Ref, error) {
	return f.answer(f.includers, header)
}

func newSeededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	batch := func(path string, syms ...store.Symbol) store.FileBatch {
		return store.FileBatch{
			File:    store.File{Path: path, Size: 1, Language: "c", SHA1: "x", LastModified: time.Now()},
			Symbols: syms,
		}
	}
	_, err = s.CommitFiles([]store.FileBatch{
		batch("a.c",
			store.Symbol{Name: "main", Type: "function", KindRaw: "function", FilePath: "a.c", LineNumber: 4},
			store.Symbol{Name: "helper", Type: "function", KindRaw: "function", FilePath: "a.c", LineNumber: 3},
		),
		batch("b.h",
			store.Symbol{Name: "b_api", Type: "function", KindRaw: "prototype", FilePath: "b.h", LineNumber: 3},
		),
	})
	require.NoError(t, err)
	return s
}

func TestIngestCallees_StagesRowsInFunctionOrder(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	xref := &fakeXref{
		callees: map[string][]cscope.Ref{
			"main":   {{File: "a.c", Function: "main", Line: 4, Text: "return helper(2);"}},
			"helper": {{File: "a.c", Function: "helper", Line: 3, Text: "return x + 1;"}},
		},
	}

	n, err := New(s, xref, "/src", 4).IngestCallees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	refs, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "main", refs[0].QuerySymbol)
	assert.Equal(t, "a.c", refs[0].SourceFile)
	assert.Equal(t, "main", refs[0].SourceFunction)
	assert.Equal(t, 4, refs[0].LineNumber)
	assert.Equal(t, "return helper(2);", refs[0].LineText)
	// main was committed before helper, so its rows come first.
	assert.Equal(t, "helper", refs[1].QuerySymbol)
}

func TestIngestCallees_SkipsPrototypes(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	queried := map[string][]cscope.Ref{
		"b_api": {{File: "b.h", Function: "b_api", Line: 3, Text: "void b_api(void);"}},
	}
	xref := &fakeXref{callees: queried}

	_, err := New(s, xref, "/src", 1).IngestCallees(context.Background())
	require.NoError(t, err)

	// b_api is a prototype; only definitions are queried. The fake answers
	// only for b_api, so any staged row would mean the prototype was queried.
	refs, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestIngestCallers_StagesReportedCaller(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	xref := &fakeXref{
		callers: map[string][]cscope.Ref{
			"helper": {{File: "a.c", Function: "main", Line: 4, Text: "return helper(2);"}},
		},
	}

	n, err := New(s, xref, "/src", 2).IngestCallers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	refs, err := s.RawReferencesByType(store.QueryCallers)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "helper", refs[0].QuerySymbol, "query symbol is the callee queried")
	assert.Equal(t, "main", refs[0].SourceFunction, "source function is the caller as reported")
}

func TestIngestIncludes_QueriesByBasenameWithGlobalFunction(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	xref := &fakeXref{
		includers: map[string][]cscope.Ref{
			"b.h": {{File: "a.c", Function: "<global>", Line: 1, Text: `#include "b.h"`}},
		},
	}

	n, err := New(s, xref, "/src", 2).IngestIncludes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	refs, err := s.RawReferencesByType(store.QueryIncludes)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "b.h", refs[0].QuerySymbol)
	assert.Equal(t, "<global>", refs[0].SourceFunction)
}

func TestIngest_NormalizesAbsolutePaths(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	root := "/src/project"
	xref := &fakeXref{
		callees: map[string][]cscope.Ref{
			"main": {{File: filepath.Join(root, "drivers", "x.c"), Function: "main", Line: 9, Text: "probe();"}},
		},
	}

	_, err := New(s, xref, root, 1).IngestCallees(context.Background())
	require.NoError(t, err)

	refs, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "drivers/x.c", refs[0].SourceFile)
}

func TestIngest_SingleQueryFailureIsSkipped(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	xref := &fakeXref{
		callees: map[string][]cscope.Ref{
			"helper": {{File: "a.c", Function: "helper", Line: 3, Text: "noop();"}},
		},
		failOn: map[string]bool{"main": true},
	}

	n, err := New(s, xref, "/src", 2).IngestCallees(context.Background())
	require.NoError(t, err, "one failing query never fails the class")
	assert.Equal(t, 1, n)

	refs, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "helper", refs[0].QuerySymbol)
}

func TestIngest_ReRunReplacesClass(t *testing.T) {
	t.Parallel()
	s := newSeededStore(t)
	xref := &fakeXref{
		callees: map[string][]cscope.Ref{
			"main": {{File: "a.c", Function: "main", Line: 4, Text: "helper(2);"}},
		},
	}

	ing := New(s, xref, "/src", 1)
	_, err := ing.IngestCallees(context.Background())
	require.NoError(t, err)
	_, err = ing.IngestCallees(context.Background())
	require.NoError(t, err)

	refs, err := s.RawReferencesByType(store.QueryCallees)
	require.NoError(t, err)
	assert.Len(t, refs, 1, "re-ingestion must not duplicate staged rows")
}
