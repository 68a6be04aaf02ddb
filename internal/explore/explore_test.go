package explore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cindex/internal/store"
)

// newTestService seeds a small two-directory project.
func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "proj.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	batch := func(path string, syms ...store.Symbol) store.FileBatch {
		return store.FileBatch{
			File:    store.File{Path: path, Size: 1, Language: "c", SHA1: "x", LastModified: time.Now()},
			Symbols: syms,
		}
	}
	sym := func(name, typ, kindRaw, path string, line int, sig string) store.Symbol {
		return store.Symbol{Name: name, Type: typ, KindRaw: kindRaw, FilePath: path, LineNumber: line, Signature: sig}
	}

	_, err = s.CommitFiles([]store.FileBatch{
		batch("a.c",
			sym("helper", "function", "function", "a.c", 3, "(int x)"),
			sym("main", "function", "function", "a.c", 4, "(void)"),
		),
		batch("b.h",
			sym("b_api", "function", "prototype", "b.h", 3, "(void)"),
			sym("B_H", "macro", "macro", "b.h", 2, ""),
		),
		batch("drivers/thermal.c",
			sym("thermal_poll", "function", "function", "drivers/thermal.c", 8, "(void)"),
		),
		batch("drivers/power.h"),
	})
	require.NoError(t, err)

	require.NoError(t, s.SetMetadataBatch(map[string]string{
		"source_root":   "/src/fw",
		"total_files":   "4",
		"total_symbols": "5",
		"indexed_at":    "2026-08-01T10:00:00Z",
	}))

	return New(s), s
}

func TestRoot_Metadata(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	root, err := svc.Root()
	require.NoError(t, err)
	assert.Equal(t, "/src/fw", root.PhysicalPath)
	assert.Empty(t, root.Path)
	assert.True(t, root.IsDir)
	assert.Equal(t, int64(4), root.TotalFiles)
	assert.Equal(t, int64(5), root.TotalSymbols)
	assert.Equal(t, 3, root.ChildrenCount) // drivers/, a.c, b.h
	assert.Equal(t, "2026-08-01T10:00:00Z", root.IndexedAt)
}

func TestChildren_DirsFirstThenFilesAlphabetical(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	nodes, err := svc.Children("")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, Node{Name: "drivers", Path: "drivers", IsDir: true}, nodes[0])
	assert.Equal(t, Node{Name: "a.c", Path: "a.c", IsDir: false}, nodes[1])
	assert.Equal(t, Node{Name: "b.h", Path: "b.h", IsDir: false}, nodes[2])
}

func TestChildren_Subdirectory(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	nodes, err := svc.Children("drivers")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "drivers/power.h", nodes[0].Path)
	assert.Equal(t, "drivers/thermal.c", nodes[1].Path)
}

func TestSearchFiles_RanksBasenameOverPath(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	matches, err := svc.SearchFiles("thermal", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "drivers/thermal.c", matches[0].Path)

	// "drivers" only appears in the path component.
	matches, err = svc.SearchFiles("drivers", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Exact basename outranks substring matches.
	matches, err = svc.SearchFiles("a.c", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "a.c", matches[0].Path)
	assert.Equal(t, 100, matches[0].Score)
}

func TestSearchSymbols_PrefixMatchWithContext(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	matches, err := svc.SearchSymbols("help", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "helper", matches[0].Name)
	assert.Equal(t, "name", matches[0].MatchedOn)
	assert.Equal(t, "a.c", matches[0].FilePath)
}

func TestSearchSymbols_MatchesSignatureAndPathColumns(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	// "thermal" hits both the file path column and a symbol name.
	matches, err := svc.SearchSymbols("thermal", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "name", m.MatchedOn) // thermal_poll's name contains it
	}

	// "int" appears only in helper's signature.
	matches, err = svc.SearchSymbols("int", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "helper", matches[0].Name)
	assert.Equal(t, "signature", matches[0].MatchedOn)

	// "drivers" appears only in thermal_poll's file path.
	matches, err = svc.SearchSymbols("drivers", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "thermal_poll", matches[0].Name)
	assert.Equal(t, "file_path", matches[0].MatchedOn)
}

func TestSymbolsInFile_LinearMatch(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	syms, err := svc.SymbolsInFile("b.h", "")
	require.NoError(t, err)
	assert.Len(t, syms, 2)

	syms, err = svc.SymbolsInFile("b.h", "api")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "b_api", syms[0].Name)

	syms, err = svc.SymbolsInFile("a.c", "int x")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "helper", syms[0].Name, "signature text matches too")
}

func TestCalleesAndCallers(t *testing.T) {
	t.Parallel()
	svc, s := newTestService(t)

	fns, err := s.Functions()
	require.NoError(t, err)
	byName := map[string]int64{}
	for _, f := range fns {
		byName[f.Name] = f.ID
	}

	_, err = s.InsertSymbolEdges([]store.SymbolEdge{
		{EdgeType: store.EdgeCalls, SrcSymbolID: byName["main"], DstSymbolID: byName["helper"], SourceFile: "a.c", LineNumber: 4},
	})
	require.NoError(t, err)

	callees, err := svc.Callees(byName["main"])
	require.NoError(t, err)
	require.Len(t, callees, 1)
	assert.Equal(t, "helper", callees[0].Name)
	assert.Equal(t, 4, callees[0].LineNumber)

	callers, err := svc.Callers(byName["helper"])
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "main", callers[0].Name)

	none, err := svc.Callers(byName["main"])
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIncludesAndIncluders(t *testing.T) {
	t.Parallel()
	svc, s := newTestService(t)

	_, err := s.InsertFileEdges([]store.FileEdge{
		{EdgeType: store.EdgeIncludes, SrcFile: "a.c", DstFile: "b.h", LineNumber: 1},
		{EdgeType: store.EdgeIncludes, SrcFile: "drivers/thermal.c", DstFile: "b.h", LineNumber: 2},
	})
	require.NoError(t, err)

	includes, err := svc.Includes("a.c")
	require.NoError(t, err)
	require.Len(t, includes, 1)
	assert.Equal(t, "b.h", includes[0].File)

	includers, err := svc.Includers("b.h")
	require.NoError(t, err)
	require.Len(t, includers, 2)
	assert.Equal(t, "a.c", includers[0].File)
	assert.Equal(t, "drivers/thermal.c", includers[1].File)
}

func TestStats(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	st, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Files)
	assert.Equal(t, int64(5), st.Symbols)
	assert.Equal(t, int64(4), st.SymbolTypes["function"])
	assert.Equal(t, int64(1), st.SymbolTypes["macro"])
}
