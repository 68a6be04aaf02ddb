package cindex

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/jward/cindex/internal/cscope"
	"github.com/jward/cindex/internal/ctags"
	"github.com/jward/cindex/internal/discover"
	"github.com/jward/cindex/internal/ingest"
	"github.com/jward/cindex/internal/resolve"
	"github.com/jward/cindex/internal/store"
)

// TagExtractor is the symbol oracle: one invocation over the canonical
// file list, producing canonical path → symbols.
type TagExtractor interface {
	ExtractRoot(ctx context.Context, root string, relPaths []string) (map[string][]store.Symbol, error)
}

// XrefProvider supplies the cross-reference oracle, either by building the
// database over the canonical file list or by opening one built earlier.
type XrefProvider interface {
	Build(ctx context.Context, relPaths []string) (ingest.Querier, error)
	Open(ctx context.Context) (ingest.Querier, error)
}

// Pipeline drives one indexing run: discover, extract tags, write the
// graph store, and optionally build the cross-reference database, ingest
// raw references, and resolve them into edges.
type Pipeline struct {
	store      *store.Store
	disc       *discover.Discoverer
	extractor  TagExtractor
	xref       XrefProvider
	dbPath     string
	workers    int
	verbose    bool
	confirm    func(prompt string) bool
	lock       *flock.Flock
	resolveOpt resolve.Options

	timings []StageTime
}

// StageTime records one stage's elapsed wall time.
type StageTime struct {
	Name    string
	Elapsed time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the ingestion fan-out pool.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithVerbose enables per-stage progress logging.
func WithVerbose(v bool) Option {
	return func(p *Pipeline) { p.verbose = v }
}

// WithConfirm overrides the clear-database prompt. The default asks on
// stdin; RunOptions.Force clears without calling it.
func WithConfirm(fn func(prompt string) bool) Option {
	return func(p *Pipeline) { p.confirm = fn }
}

// WithTagExtractor substitutes the symbol oracle. The default runs ctags.
func WithTagExtractor(ext TagExtractor) Option {
	return func(p *Pipeline) { p.extractor = ext }
}

// WithXrefProvider substitutes the cross-reference oracle. The default
// runs cscope with the database stored next to the SQLite file.
func WithXrefProvider(x XrefProvider) Option {
	return func(p *Pipeline) { p.xref = x }
}

// WithResolveOptions tunes resolver heuristics.
func WithResolveOptions(opts resolve.Options) Option {
	return func(p *Pipeline) { p.resolveOpt = opts }
}

// New opens the store at dbPath for indexing sourceDir. The source root is
// resolved to an absolute path once; every stored path is relative to it.
// A file lock next to the database serializes indexing runs.
func New(dbPath, sourceDir string, extensions []string, opts ...Option) (*Pipeline, error) {
	disc, err := discover.New(sourceDir, extensions, nil)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another indexing run holds %s", lock.Path())
	}

	s, err := store.NewStore(dbPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		lock.Unlock()
		return nil, err
	}

	p := &Pipeline{
		store:   s,
		disc:    disc,
		dbPath:  dbPath,
		lock:    lock,
		confirm: confirmStdin,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = ctags.NewRunner("")
	}
	if p.xref == nil {
		p.xref = &cscopeProvider{root: disc.Root(), outDir: filepath.Dir(dbPath)}
	}
	return p, nil
}

// Close releases the store and the run lock.
func (p *Pipeline) Close() error {
	err := p.store.Close()
	if unlockErr := p.lockUnlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (p *Pipeline) lockUnlock() error {
	if p.lock != nil {
		return p.lock.Unlock()
	}
	return nil
}

// Store exposes the underlying store for readers.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Timings returns per-stage elapsed times from the last Run.
func (p *Pipeline) Timings() []StageTime {
	return p.timings
}

// RunOptions select which optional stages execute.
type RunOptions struct {
	Force       bool // clear without prompting
	BuildXref   bool // Stage D
	IngestRefs  bool // Stage E
	ResolveRefs bool // Stage F
}

// Summary reports what a run produced.
type Summary struct {
	Files        int
	Symbols      int64
	CallStats    *resolve.Stats
	IncludeStats *resolve.Stats
}

// Run executes the pipeline. Stage order is strict: discovery and symbol
// writing complete before the cross-reference database is built, which
// completes before ingestion, which completes before resolution. Optional
// stages that cannot run (missing scanner) are skipped, never fatal;
// store errors abort.
func (p *Pipeline) Run(ctx context.Context, opt RunOptions) (*Summary, error) {
	p.timings = nil
	sum := &Summary{}

	if opt.Force {
		if err := p.store.Clear(); err != nil {
			return nil, err
		}
		p.logf("cleared database (force)")
	} else if p.confirm("Clear existing database?") {
		if err := p.store.Clear(); err != nil {
			return nil, err
		}
	}

	// Stage A: discover the file universe both oracles will see.
	var relPaths, absPaths []string
	err := p.timed("discover", func() error {
		var err error
		relPaths, absPaths, err = p.disc.Files()
		return err
	})
	if err != nil {
		return nil, err
	}
	sum.Files = len(relPaths)
	p.logf("discovered %d files under %s", len(relPaths), p.disc.Root())

	// Stage B: single tag-extractor invocation. Extraction failure
	// degrades to zero symbols; it never aborts the run.
	var symbolsByFile map[string][]store.Symbol
	err = p.timed("extract", func() error {
		var err error
		symbolsByFile, err = p.extractor.ExtractRoot(ctx, p.disc.Root(), relPaths)
		if err != nil {
			log.Printf("warning: tag extraction failed: %v", err)
			symbolsByFile = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stage C: one transaction for all file and symbol rows.
	err = p.timed("write", func() error {
		batches, err := p.fileBatches(relPaths, absPaths, symbolsByFile)
		if err != nil {
			return err
		}
		sum.Symbols, err = p.store.CommitFiles(batches)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logf("wrote %d symbols", sum.Symbols)

	// Stages D–F: optional cross-reference half of the run.
	var xref ingest.Querier
	xrefFailed := false
	if opt.BuildXref {
		err = p.timed("xref", func() error {
			storedPaths, err := p.store.FilePaths()
			if err != nil {
				return err
			}
			xref, err = p.xref.Build(ctx, storedPaths)
			if err != nil {
				// Missing or failing scanner: downstream stages skip.
				log.Printf("warning: cross-reference build failed, skipping reference stages: %v", err)
				xref = nil
				xrefFailed = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if opt.IngestRefs && !xrefFailed {
		if xref == nil {
			var openErr error
			xref, openErr = p.xref.Open(ctx)
			if openErr != nil {
				log.Printf("warning: cross-reference database unavailable, skipping ingestion: %v", openErr)
			}
		}
		if xref != nil {
			err = p.timed("ingest", func() error { return p.ingestRefs(ctx, xref) })
			if err != nil {
				return nil, err
			}
		}
	}

	if opt.ResolveRefs && !xrefFailed {
		err = p.timed("resolve", func() error {
			var err error
			sum.CallStats, sum.IncludeStats, err = p.resolveRefs()
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	// Stage G: metadata last, so readers can trust it describes a
	// completed run.
	err = p.timed("meta", func() error {
		return p.writeMetadata(sum)
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// fileBatches reads each discovered file for its metadata (size, SHA-1,
// mtime) and pairs it with the extractor's symbols. Unreadable files are
// logged and skipped.
func (p *Pipeline) fileBatches(relPaths, absPaths []string, symbolsByFile map[string][]store.Symbol) ([]store.FileBatch, error) {
	batches := make([]store.FileBatch, 0, len(relPaths))
	for i, rel := range relPaths {
		content, err := os.ReadFile(absPaths[i])
		if err != nil {
			log.Printf("warning: skipping unreadable file %s: %v", rel, err)
			continue
		}
		info, err := os.Stat(absPaths[i])
		if err != nil {
			log.Printf("warning: skipping %s: %v", rel, err)
			continue
		}
		batches = append(batches, store.FileBatch{
			File: store.File{
				Path:         rel,
				Size:         int64(len(content)),
				Language:     languageOf(rel),
				SHA1:         fmt.Sprintf("%x", sha1.Sum(content)),
				LastModified: info.ModTime(),
			},
			Symbols: symbolsByFile[rel],
		})
	}
	return batches, nil
}

func languageOf(path string) string {
	switch filepath.Ext(path) {
	case ".c":
		return "c"
	case ".h":
		return "h"
	default:
		return "unknown"
	}
}

// ingestRefs runs the three Stage E query classes.
func (p *Pipeline) ingestRefs(ctx context.Context, xref ingest.Querier) error {
	ing := ingest.New(p.store, xref, p.disc.Root(), p.workers)

	n, err := ing.IngestCallees(ctx)
	if err != nil {
		return fmt.Errorf("ingest callees: %w", err)
	}
	p.logf("staged %d callee references", n)

	n, err = ing.IngestCallers(ctx)
	if err != nil {
		return fmt.Errorf("ingest callers: %w", err)
	}
	p.logf("staged %d caller references", n)

	n, err = ing.IngestIncludes(ctx)
	if err != nil {
		return fmt.Errorf("ingest includes: %w", err)
	}
	p.logf("staged %d include references", n)
	return nil
}

// resolveRefs clears previous edges and re-resolves both edge classes, so
// the stage is re-runnable on its own.
func (p *Pipeline) resolveRefs() (*resolve.Stats, *resolve.Stats, error) {
	if err := p.store.DeleteSymbolEdges(store.EdgeCalls); err != nil {
		return nil, nil, err
	}
	if err := p.store.DeleteFileEdges(store.EdgeIncludes); err != nil {
		return nil, nil, err
	}

	res := resolve.New(p.store, p.resolveOpt)
	callStats, err := res.ResolveCalls()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve calls: %w", err)
	}
	includeStats, err := res.ResolveIncludes()
	if err != nil {
		return &callStats, nil, fmt.Errorf("resolve includes: %w", err)
	}
	return &callStats, &includeStats, nil
}

func (p *Pipeline) writeMetadata(sum *Summary) error {
	totalSymbols, err := p.store.CountRows("symbols")
	if err != nil {
		return err
	}
	kv := map[string]string{
		"source_root":   p.disc.Root(),
		"total_files":   strconv.Itoa(sum.Files),
		"total_symbols": strconv.FormatInt(totalSymbols, 10),
		"indexed_at":    time.Now().Format(time.RFC3339),
	}
	for _, st := range p.timings {
		kv["stage_"+st.Name+"_ms"] = strconv.FormatInt(st.Elapsed.Milliseconds(), 10)
	}
	return p.store.SetMetadataBatch(kv)
}

func (p *Pipeline) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.timings = append(p.timings, StageTime{Name: name, Elapsed: time.Since(start)})
	return err
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.verbose {
		log.Printf(format, args...)
	}
}

// confirmStdin asks a Y/n question on stdin, defaulting to yes.
func confirmStdin(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [Y/n] ", prompt)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "" || answer == "y" || answer == "yes"
}

// cscopeProvider is the production XrefProvider.
type cscopeProvider struct {
	bin    string
	root   string
	outDir string
}

func (c *cscopeProvider) Build(ctx context.Context, relPaths []string) (ingest.Querier, error) {
	db, err := cscope.Build(ctx, c.bin, c.root, c.outDir, relPaths)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (c *cscopeProvider) Open(_ context.Context) (ingest.Querier, error) {
	db, err := cscope.Open(c.bin, c.root, filepath.Join(c.outDir, cscope.DatabaseName))
	if err != nil {
		return nil, err
	}
	return db, nil
}
