// Package ingest stages raw cross-reference records. The scanner's answers
// are untrusted sensor data: they are stored verbatim in raw_references and
// only later mapped to symbol ids by the resolver.
package ingest

import (
	"context"
	"log"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jward/cindex/internal/cscope"
	"github.com/jward/cindex/internal/store"
)

// Querier answers the three cross-reference query classes. *cscope.DB is
// the production implementation; tests substitute a fake.
type Querier interface {
	Callees(ctx context.Context, fn string) ([]cscope.Ref, error)
	Callers(ctx context.Context, fn string) ([]cscope.Ref, error)
	Includers(ctx context.Context, header string) ([]cscope.Ref, error)
}

// Ingestor runs one scanner query per symbol on a bounded pool and commits
// each query class in a single store transaction.
type Ingestor struct {
	store      *store.Store
	xref       Querier
	sourceRoot string
	workers    int
}

// New creates an Ingestor. workers <= 0 selects NumCPU.
func New(s *store.Store, xref Querier, sourceRoot string, workers int) *Ingestor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Ingestor{store: s, xref: xref, sourceRoot: sourceRoot, workers: workers}
}

// IngestCallees queries "functions called by X" for every definition
// function and stages the results. Returns the number of rows staged.
func (in *Ingestor) IngestCallees(ctx context.Context) (int, error) {
	fns, err := in.store.DefinitionFunctions()
	if err != nil {
		return 0, err
	}
	refs, err := in.fanOut(ctx, len(fns), func(ctx context.Context, i int) ([]store.RawReference, error) {
		results, err := in.xref.Callees(ctx, fns[i].Name)
		if err != nil {
			return nil, err
		}
		return in.toRawRefs(store.QueryCallees, fns[i].Name, results, ""), nil
	})
	if err != nil {
		return 0, err
	}
	if err := in.store.ReplaceRawReferences(store.QueryCallees, refs); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// IngestCallers queries "functions that call X" for the same function set.
func (in *Ingestor) IngestCallers(ctx context.Context) (int, error) {
	fns, err := in.store.DefinitionFunctions()
	if err != nil {
		return 0, err
	}
	refs, err := in.fanOut(ctx, len(fns), func(ctx context.Context, i int) ([]store.RawReference, error) {
		results, err := in.xref.Callers(ctx, fns[i].Name)
		if err != nil {
			return nil, err
		}
		return in.toRawRefs(store.QueryCallers, fns[i].Name, results, ""), nil
	})
	if err != nil {
		return 0, err
	}
	if err := in.store.ReplaceRawReferences(store.QueryCallers, refs); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// IngestIncludes queries "files including Y" for every header. The scanner
// matches headers by basename; includes are file-level, so source_function
// is the literal "<global>".
func (in *Ingestor) IngestIncludes(ctx context.Context) (int, error) {
	headers, err := in.store.HeaderFiles()
	if err != nil {
		return 0, err
	}
	refs, err := in.fanOut(ctx, len(headers), func(ctx context.Context, i int) ([]store.RawReference, error) {
		basename := headers[i][1]
		results, err := in.xref.Includers(ctx, basename)
		if err != nil {
			return nil, err
		}
		return in.toRawRefs(store.QueryIncludes, basename, results, "<global>"), nil
	})
	if err != nil {
		return 0, err
	}
	if err := in.store.ReplaceRawReferences(store.QueryIncludes, refs); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// fanOut runs n independent queries on a bounded pool. Results land in an
// index-keyed slice so the staged order matches the iteration order no
// matter how the pool schedules. A single query failure is logged and
// contributes zero rows; it never fails the class.
func (in *Ingestor) fanOut(ctx context.Context, n int, query func(ctx context.Context, i int) ([]store.RawReference, error)) ([]store.RawReference, error) {
	results := make([][]store.RawReference, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			refs, err := query(ctx, i)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("warning: xref query failed: %v", err)
				return nil
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []store.RawReference
	for _, refs := range results {
		flat = append(flat, refs...)
	}
	return flat, nil
}

// toRawRefs converts scanner results to staging rows, normalizing paths to
// canonical form. overrideFunction replaces the reported enclosing function
// when the query class is file-level.
func (in *Ingestor) toRawRefs(queryType, querySymbol string, results []cscope.Ref, overrideFunction string) []store.RawReference {
	refs := make([]store.RawReference, 0, len(results))
	for _, r := range results {
		fn := r.Function
		if overrideFunction != "" {
			fn = overrideFunction
		}
		refs = append(refs, store.RawReference{
			QueryType:      queryType,
			QuerySymbol:    querySymbol,
			SourceFile:     normalizePath(in.sourceRoot, r.File),
			SourceFunction: fn,
			LineNumber:     r.Line,
			LineText:       r.Text,
		})
	}
	return refs
}

// normalizePath keeps already-relative scanner paths as-is (the database is
// built with cwd = source root, so this is the expected case) and makes
// absolute ones relative to the root.
func normalizePath(root, p string) string {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
