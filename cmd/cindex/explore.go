package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jward/cindex/internal/explore"
	"github.com/jward/cindex/internal/store"
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Explore an indexed database interactively",
	Long:  "Menu-driven terminal explorer: statistics, symbol search with call graph, and file search with includes.",
	RunE:  runExplore,
}

func runExplore(cmd *cobra.Command, args []string) error {
	s, err := openExistingStore(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()

	svc := explore.New(s)
	sourceRoot, err := s.GetMetadata("source_root")
	if err != nil {
		return err
	}

	ex := &explorer{svc: svc, store: s, sourceRoot: sourceRoot, in: bufio.NewScanner(os.Stdin)}
	return ex.loop()
}

type explorer struct {
	svc        *explore.Service
	store      *store.Store
	sourceRoot string
	in         *bufio.Scanner
}

func (ex *explorer) loop() error {
	for {
		fmt.Println()
		fmt.Println("cindex explorer")
		fmt.Println("  1. Statistics")
		fmt.Println("  2. Search for a symbol")
		fmt.Println("  3. Search for a file")
		fmt.Println("  4. Quit")

		switch ex.prompt("Choose an option [1-4]: ") {
		case "1":
			if err := ex.showStats(); err != nil {
				return err
			}
		case "2":
			if err := ex.searchSymbol(); err != nil {
				return err
			}
		case "3":
			if err := ex.searchFile(); err != nil {
				return err
			}
		case "4", "q", "":
			return nil
		default:
			fmt.Println("Invalid option.")
		}
	}
}

func (ex *explorer) prompt(msg string) string {
	fmt.Print(msg)
	if !ex.in.Scan() {
		return ""
	}
	return strings.TrimSpace(ex.in.Text())
}

func (ex *explorer) showStats() error {
	st, err := ex.svc.Stats()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Files indexed\t%d\n", st.Files)
	fmt.Fprintf(tw, "Total symbols\t%d\n", st.Symbols)
	fmt.Fprintf(tw, "Functions\t%d\n", st.SymbolTypes["function"])
	fmt.Fprintf(tw, "Macros\t%d\n", st.SymbolTypes["macro"])
	fmt.Fprintf(tw, "Structs\t%d\n", st.SymbolTypes["struct"])
	fmt.Fprintf(tw, "CALLS edges\t%d\n", st.CallEdges)
	fmt.Fprintf(tw, "INCLUDES edges\t%d\n", st.IncludeEdges)
	return tw.Flush()
}

func (ex *explorer) searchSymbol() error {
	q := ex.prompt("Symbol name (or part of it): ")
	if q == "" {
		return nil
	}
	matches, err := ex.svc.SearchSymbols(q, 20)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Printf("No symbols found matching %q\n", q)
		return nil
	}

	for i, m := range matches {
		fmt.Printf("%d. %s (%s)  %s:%d\n", i+1, m.Name, m.Type, m.FilePath, m.LineNumber)
	}
	sel := ex.pick(len(matches))
	if sel < 0 {
		return nil
	}
	return ex.showSymbol(matches[sel])
}

func (ex *explorer) showSymbol(m explore.SymbolMatch) error {
	fmt.Printf("\n%s (%s)  %s:%d\n", m.Name, m.Type, m.FilePath, m.LineNumber)
	if m.Signature != "" {
		fmt.Printf("  signature: %s\n", m.Signature)
	}

	ex.showSource(m.FilePath, m.LineNumber)

	if m.Type != "function" {
		return nil
	}

	callees, err := ex.svc.Callees(m.ID)
	if err != nil {
		return err
	}
	fmt.Println("\nCALLS:")
	if len(callees) == 0 {
		fmt.Println("  none found (or not resolved)")
	}
	for _, e := range callees {
		fmt.Printf("  %s  %s:%d\n", e.Name, e.SourceFile, e.LineNumber)
	}

	callers, err := ex.svc.Callers(m.ID)
	if err != nil {
		return err
	}
	fmt.Println("\nCALLED BY:")
	if len(callers) == 0 {
		fmt.Println("  none found (or not resolved)")
	}
	for _, e := range callers {
		fmt.Printf("  %s  %s:%d\n", e.Name, e.SourceFile, e.LineNumber)
	}
	return nil
}

// showSource prints up to 20 lines of the definition site when the
// original tree is still present.
func (ex *explorer) showSource(relPath string, line int) {
	if ex.sourceRoot == "" {
		return
	}
	content, err := os.ReadFile(filepath.Join(ex.sourceRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return
	}
	lines := strings.Split(string(content), "\n")
	start := line - 1
	if start < 0 || start >= len(lines) {
		return
	}
	end := min(start+20, len(lines))
	fmt.Println()
	for i := start; i < end; i++ {
		fmt.Printf("%6d  %s\n", i+1, strings.TrimRight(lines[i], "\r"))
	}
}

func (ex *explorer) searchFile() error {
	q := ex.prompt("File name (or part of it): ")
	if q == "" {
		return nil
	}
	matches, err := ex.svc.SearchFiles(q, 20)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Printf("No files found matching %q\n", q)
		return nil
	}

	for i, m := range matches {
		fmt.Printf("%d. %s\n", i+1, m.Path)
	}
	sel := ex.pick(len(matches))
	if sel < 0 {
		return nil
	}
	return ex.showFile(matches[sel].Path)
}

func (ex *explorer) showFile(path string) error {
	syms, err := ex.svc.SymbolsInFile(path, "")
	if err != nil {
		return err
	}
	fmt.Printf("\n%s — %d symbols\n", path, len(syms))

	fmt.Println("\nFUNCTIONS:")
	count := 0
	for _, sym := range syms {
		if sym.Type == "function" {
			fmt.Printf("  %s  line %d\n", sym.Name, sym.LineNumber)
			count++
		}
	}
	if count == 0 {
		fmt.Println("  none defined in this file")
	}

	includes, err := ex.svc.Includes(path)
	if err != nil {
		return err
	}
	fmt.Println("\nINCLUDES:")
	if len(includes) == 0 {
		fmt.Println("  none found (or not resolved)")
	}
	for _, inc := range includes {
		fmt.Printf("  %s  line %d\n", inc.File, inc.LineNumber)
	}
	return nil
}

// pick reads a 1-based selection, returning -1 when skipped or invalid.
func (ex *explorer) pick(n int) int {
	if n == 1 {
		return 0
	}
	choice := ex.prompt("Enter number for details (or press Enter to skip): ")
	if choice == "" {
		return -1
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > n {
		fmt.Println("Invalid selection.")
		return -1
	}
	return idx - 1
}
