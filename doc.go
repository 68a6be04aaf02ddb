// Package cindex indexes a C source tree into a queryable semantic graph:
// a SQLite store of files, symbols, call edges between symbols, and include
// edges between files.
//
// # Pipeline
//
// A run is a strictly sequential batch transformation:
//
//  1. Discover: walk the source root with extension and ignore filters,
//     producing the canonical relative path list every later stage uses.
//  2. Extract: invoke the tag extractor (Universal Ctags) once over that
//     list and normalize its JSON output into symbol records, including
//     two-pass resolution of anonymous aggregates to typedef names.
//  3. Write: commit files, symbols, and the full-text index in one store
//     transaction.
//  4. Xref (optional): build the cross-reference scanner database (cscope)
//     over the same file list, with the source root as working directory
//     so both oracles report identical paths.
//  5. Ingest (optional): query callees, callers, and includers for every
//     function and header, staging the untrusted answers verbatim.
//  6. Resolve (optional): map the staged rows onto symbol ids, emitting
//     CALLS and INCLUDES edges and classifying every miss.
//  7. Metadata: record counts, the source root, and per-stage timings.
//
// # Usage
//
//	p, err := cindex.New("data/index.db", "/src/project", nil)
//	if err != nil { ... }
//	defer p.Close()
//
//	sum, err := p.Run(ctx, cindex.RunOptions{
//		Force:       true,
//		BuildXref:   true,
//		IngestRefs:  true,
//		ResolveRefs: true,
//	})
//
// The finished store is read through the explore service (file tree,
// symbol search, call and include traversal); see internal/explore and the
// cindex CLI's serve, explore, and stats commands.
package cindex
