// Package server exposes the explore service over HTTP as thin read-only
// JSON endpoints.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jward/cindex/internal/explore"
)

// Version reported by the root endpoint.
const Version = "0.1.0"

// Handler routes query endpoints for a single project.
func Handler(svc *explore.Service, projectID string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "cindex API",
			"version": Version,
		})
	})

	r.Route("/projects/{project}", func(r chi.Router) {
		r.Use(projectGuard(projectID))

		r.Get("/root", func(w http.ResponseWriter, _ *http.Request) {
			root, err := svc.Root()
			respond(w, root, err)
		})

		r.Get("/children", func(w http.ResponseWriter, req *http.Request) {
			nodes, err := svc.Children(req.URL.Query().Get("path"))
			if nodes == nil {
				nodes = []explore.Node{}
			}
			respond(w, nodes, err)
		})

		r.Get("/files/search", func(w http.ResponseWriter, req *http.Request) {
			matches, err := svc.SearchFiles(req.URL.Query().Get("q"), queryLimit(req))
			if matches == nil {
				matches = []explore.FileMatch{}
			}
			respond(w, matches, err)
		})

		r.Get("/symbols/search", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query().Get("q")
			if q == "" {
				writeError(w, http.StatusBadRequest, "missing query parameter q")
				return
			}
			matches, err := svc.SearchSymbols(q, queryLimit(req))
			if matches == nil {
				matches = []explore.SymbolMatch{}
			}
			respond(w, matches, err)
		})

		r.Get("/symbols/in-file", func(w http.ResponseWriter, req *http.Request) {
			file := req.URL.Query().Get("file")
			if file == "" {
				writeError(w, http.StatusBadRequest, "missing query parameter file")
				return
			}
			syms, err := svc.SymbolsInFile(file, req.URL.Query().Get("q"))
			out := make([]explore.SymbolMatch, 0, len(syms))
			for _, sym := range syms {
				out = append(out, explore.SymbolMatch{
					ID:         sym.ID,
					Name:       sym.Name,
					Type:       sym.Type,
					FilePath:   sym.FilePath,
					LineNumber: sym.LineNumber,
					Signature:  sym.Signature,
				})
			}
			respond(w, out, err)
		})

		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			stats, err := svc.Stats()
			respond(w, stats, err)
		})
	})

	return r
}

// projectGuard rejects unknown project ids with a JSON 404.
func projectGuard(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "project") != projectID {
				writeError(w, http.StatusNotFound, "project not found")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func queryLimit(req *http.Request) int {
	n, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0 // service default
	}
	return n
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
