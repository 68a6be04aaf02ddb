package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jward/cindex/internal/explore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print database statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openExistingStore(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()

	svc := explore.New(s)
	st, err := svc.Stats()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Files\t%d\n", st.Files)
	fmt.Fprintf(tw, "Symbols\t%d\n", st.Symbols)
	fmt.Fprintf(tw, "Raw references\t%d\n", st.RawRefs)
	fmt.Fprintf(tw, "CALLS edges\t%d\n", st.CallEdges)
	fmt.Fprintf(tw, "INCLUDES edges\t%d\n", st.IncludeEdges)
	tw.Flush()

	if len(st.SymbolTypes) > 0 {
		fmt.Println("\nSymbol types:")
		types := make([]string, 0, len(st.SymbolTypes))
		for t := range st.SymbolTypes {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool {
			if st.SymbolTypes[types[i]] != st.SymbolTypes[types[j]] {
				return st.SymbolTypes[types[i]] > st.SymbolTypes[types[j]]
			}
			return types[i] < types[j]
		})
		tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, t := range types {
			fmt.Fprintf(tw, "  %s\t%d\n", t, st.SymbolTypes[t])
		}
		tw.Flush()
	}
	return nil
}
