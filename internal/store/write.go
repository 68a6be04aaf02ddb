package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// CommitFiles inserts file records and their symbols within a single
// transaction, keeping the FTS index in step with the symbols table.
// FTS rows are written with rowid = symbol id so queries can join back.
// A file already present is refreshed: its stale symbols, their FTS rows,
// and any edges touching them are removed first, in FK dependency order.
// Returns the number of symbols inserted.
func (s *Store) CommitFiles(batches []FileBatch) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("commit files: begin: %w", err)
	}
	defer tx.Rollback()

	fileStmt, err := tx.Prepare(
		`INSERT INTO files (path, size, language, sha1, last_modified)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			language = excluded.language,
			sha1 = excluded.sha1,
			last_modified = excluded.last_modified`)
	if err != nil {
		return 0, fmt.Errorf("commit files: prepare: %w", err)
	}
	defer fileStmt.Close()

	symStmt, err := tx.Prepare(
		`INSERT INTO symbols (name, type, kind_raw, file_path, line_number,
			signature, typeref, scope, scope_kind, scope_name, is_file_scope)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("commit files: prepare: %w", err)
	}
	defer symStmt.Close()

	ftsStmt, err := tx.Prepare(
		`INSERT INTO symbols_fts (rowid, name, signature, file_path)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("commit files: prepare: %w", err)
	}
	defer ftsStmt.Close()

	var total int64
	for _, b := range batches {
		f := b.File
		if err := deleteFileSymbolsTx(tx, f.Path); err != nil {
			return 0, fmt.Errorf("commit files: refresh %s: %w", f.Path, err)
		}
		if _, err := fileStmt.Exec(f.Path, f.Size, f.Language, f.SHA1, f.LastModified); err != nil {
			return 0, fmt.Errorf("commit files: file %s: %w", f.Path, err)
		}
		for _, sym := range b.Symbols {
			scope := FileScopeUnknown
			if sym.IsFileScope != "" {
				scope = sym.IsFileScope
			}
			symPath := sym.FilePath
			if symPath == "" {
				symPath = f.Path
			}
			res, err := symStmt.Exec(
				sym.Name, sym.Type, nullable(sym.KindRaw), symPath, sym.LineNumber,
				nullable(sym.Signature), nullable(sym.Typeref), nullable(sym.Scope),
				nullable(sym.ScopeKind), nullable(sym.ScopeName), string(scope),
			)
			if err != nil {
				return 0, fmt.Errorf("commit files: symbol %s in %s: %w", sym.Name, f.Path, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("commit files: symbol id: %w", err)
			}
			if _, err := ftsStmt.Exec(id, sym.Name, sym.Signature, symPath); err != nil {
				return 0, fmt.Errorf("commit files: fts row for %s: %w", sym.Name, err)
			}
			total++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit files: %w", err)
	}
	return total, nil
}

// deleteFileSymbolsTx removes a file's prior symbols ahead of re-insert:
// edges referencing them, their FTS rows, then the symbol rows.
func deleteFileSymbolsTx(tx *sql.Tx, path string) error {
	for _, q := range []string{
		`DELETE FROM symbol_edges WHERE
			src_symbol_id IN (SELECT id FROM symbols WHERE file_path = ?) OR
			dst_symbol_id IN (SELECT id FROM symbols WHERE file_path = ?)`,
		`DELETE FROM symbols_fts WHERE rowid IN (SELECT id FROM symbols WHERE file_path = ?)`,
		`DELETE FROM symbols WHERE file_path = ?`,
	} {
		args := []any{path}
		if strings.Count(q, "?") == 2 {
			args = append(args, path)
		}
		if _, err := tx.Exec(q, args...); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceRawReferences deletes existing rows of the given query class and
// inserts the new batch, all in one transaction, so a re-run of a single
// ingestion class never duplicates its staging rows.
func (s *Store) ReplaceRawReferences(queryType string, refs []RawReference) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("raw references: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM raw_references WHERE query_type = ?", queryType); err != nil {
		return fmt.Errorf("raw references: clear %s: %w", queryType, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO raw_references
			(query_type, query_symbol, source_file, source_function, line_number, line_text)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("raw references: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.Exec(queryType, r.QuerySymbol, r.SourceFile, r.SourceFunction, r.LineNumber, r.LineText); err != nil {
			return fmt.Errorf("raw references: insert %s/%s: %w", queryType, r.QuerySymbol, err)
		}
	}
	return tx.Commit()
}

// InsertSymbolEdges bulk-inserts symbol edges with INSERT OR IGNORE so the
// UNIQUE(edge_type, src, dst, file, line) constraint deduplicates.
// Returns the number of rows actually inserted.
func (s *Store) InsertSymbolEdges(edges []SymbolEdge) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("symbol edges: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO symbol_edges
			(edge_type, src_symbol_id, dst_symbol_id, source_file, line_number)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("symbol edges: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range edges {
		res, err := stmt.Exec(e.EdgeType, e.SrcSymbolID, e.DstSymbolID, e.SourceFile, e.LineNumber)
		if err != nil {
			return 0, fmt.Errorf("symbol edges: insert %d→%d: %w", e.SrcSymbolID, e.DstSymbolID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("symbol edges: %w", err)
	}
	return inserted, nil
}

// InsertFileEdges bulk-inserts file edges with INSERT OR IGNORE.
// Returns the number of rows actually inserted.
func (s *Store) InsertFileEdges(edges []FileEdge) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("file edges: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO file_edges (edge_type, src_file, dst_file, line_number)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("file edges: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, e := range edges {
		res, err := stmt.Exec(e.EdgeType, e.SrcFile, e.DstFile, e.LineNumber)
		if err != nil {
			return 0, fmt.Errorf("file edges: insert %s→%s: %w", e.SrcFile, e.DstFile, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("file edges: %w", err)
	}
	return inserted, nil
}

// DeleteSymbolEdges removes all edges of one type, for a clean re-resolve.
func (s *Store) DeleteSymbolEdges(edgeType string) error {
	_, err := s.db.Exec("DELETE FROM symbol_edges WHERE edge_type = ?", edgeType)
	if err != nil {
		return fmt.Errorf("delete %s edges: %w", edgeType, err)
	}
	return nil
}

// DeleteFileEdges removes all file edges of one type.
func (s *Store) DeleteFileEdges(edgeType string) error {
	_, err := s.db.Exec("DELETE FROM file_edges WHERE edge_type = ?", edgeType)
	if err != nil {
		return fmt.Errorf("delete %s edges: %w", edgeType, err)
	}
	return nil
}
