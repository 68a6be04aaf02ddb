package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/cindex"
	"github.com/jward/cindex/internal/ctags"
)

var (
	flagExtensions  string
	flagRefs        bool
	flagBuildCscope bool
	flagIngestRefs  bool
	flagResolveRefs bool
	flagForce       bool
	flagVerbose     bool
	flagWorkers     int
)

var indexCmd = &cobra.Command{
	Use:   "index SOURCE_DIR",
	Short: "Index a C source tree",
	Long:  "Discovers source files, extracts symbols with ctags, and writes the semantic graph. With --refs, also builds the cscope database, stages raw references, and resolves call and include edges.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&flagExtensions, "extensions", ".c,.h", "file extensions (comma-separated)")
	indexCmd.Flags().BoolVar(&flagRefs, "refs", false, "run all reference stages (cscope build, ingest, resolve)")
	indexCmd.Flags().BoolVar(&flagBuildCscope, "build-cscope", false, "build the cscope cross-reference database")
	indexCmd.Flags().BoolVar(&flagIngestRefs, "ingest-refs", false, "stage raw cscope references")
	indexCmd.Flags().BoolVar(&flagResolveRefs, "resolve-refs", false, "resolve staged references into edges")
	indexCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "clear the database without prompting")
	indexCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "reference query workers (default: CPU count)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	sourceDir := args[0]
	extensions := parseExtensions(flagExtensions)

	fmt.Fprintf(os.Stderr, "Source:     %s\n", sourceDir)
	fmt.Fprintf(os.Stderr, "Database:   %s\n", flagDB)
	fmt.Fprintf(os.Stderr, "Extensions: %s\n", strings.Join(extensions, ", "))

	ctx := context.Background()

	// Fail fast on an incompatible extractor before touching the store.
	if err := ctags.NewRunner("").VerifyCompatibility(ctx); err != nil {
		return err
	}

	p, err := cindex.New(flagDB, sourceDir, extensions,
		cindex.WithVerbose(flagVerbose),
		cindex.WithWorkers(flagWorkers),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	sum, err := p.Run(ctx, cindex.RunOptions{
		Force:       flagForce,
		BuildXref:   flagRefs || flagBuildCscope,
		IngestRefs:  flagRefs || flagIngestRefs,
		ResolveRefs: flagRefs || flagResolveRefs,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\nIndexed %d files, %d symbols in %s\n",
		sum.Files, sum.Symbols, time.Since(start).Round(time.Millisecond))
	for _, st := range p.Timings() {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", st.Name, st.Elapsed.Round(time.Millisecond))
	}
	if sum.CallStats != nil {
		fmt.Fprintln(os.Stderr)
		sum.CallStats.Render(os.Stderr, "CALLS resolution")
	}
	if sum.IncludeStats != nil {
		fmt.Fprintln(os.Stderr)
		sum.IncludeStats.Render(os.Stderr, "INCLUDES resolution")
	}
	fmt.Fprintf(os.Stderr, "\nDatabase: %s\n", flagDB)
	return nil
}

// parseExtensions normalizes a comma-separated list, ensuring each entry
// carries a leading dot.
func parseExtensions(csv string) []string {
	var exts []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		exts = append(exts, part)
	}
	return exts
}
