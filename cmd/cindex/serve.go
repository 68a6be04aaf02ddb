package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/cindex/internal/explore"
	"github.com/jward/cindex/internal/server"
	"github.com/jward/cindex/internal/store"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	Long:  "Exposes read-only JSON endpoints over an indexed database: project root, directory children, file search, and symbol search.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8570", "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openExistingStore(flagDB)
	if err != nil {
		return err
	}
	defer s.Close()

	id := projectID(flagDB)
	handler := server.Handler(explore.New(s), id)

	fmt.Fprintf(os.Stderr, "Serving project %q on %s\n", id, flagAddr)
	return http.ListenAndServe(flagAddr, handler)
}

// openExistingStore opens a database that must already have been indexed.
func openExistingStore(dbPath string) (*store.Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %s (run cindex index first)", dbPath)
	}
	return store.NewStore(dbPath)
}
