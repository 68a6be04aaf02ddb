package store

import (
	"database/sql"
	"fmt"
	"path"
)

// FilePaths returns every canonical path in files, sorted.
func (s *Store) FilePaths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan file path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// HeaderFiles returns (path, basename) pairs for every .h file, sorted by
// path. The basename is what the cross-reference scanner is queried with.
func (s *Store) HeaderFiles() ([][2]string, error) {
	rows, err := s.db.Query("SELECT path FROM files WHERE path LIKE '%.h' ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list headers: %w", err)
	}
	defer rows.Close()

	var headers [][2]string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan header path: %w", err)
		}
		headers = append(headers, [2]string{p, path.Base(p)})
	}
	return headers, rows.Err()
}

// DefinitionFunctions returns function symbols whose raw kind is
// "function" (implementations only, not prototypes), ordered by id.
// This is the query set for both callee and caller ingestion.
func (s *Store) DefinitionFunctions() ([]FunctionRef, error) {
	rows, err := s.db.Query(
		`SELECT id, name, file_path FROM symbols
		 WHERE type = 'function' AND kind_raw = 'function' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var fns []FunctionRef
	for rows.Next() {
		var f FunctionRef
		if err := rows.Scan(&f.ID, &f.Name, &f.FilePath); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		fns = append(fns, f)
	}
	return fns, rows.Err()
}

// Functions returns every symbol with type 'function' (definitions and
// prototypes), for the resolver's in-memory name index.
func (s *Store) Functions() ([]FunctionRef, error) {
	rows, err := s.db.Query(
		`SELECT id, name, file_path FROM symbols WHERE type = 'function' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list function symbols: %w", err)
	}
	defer rows.Close()

	var fns []FunctionRef
	for rows.Next() {
		var f FunctionRef
		if err := rows.Scan(&f.ID, &f.Name, &f.FilePath); err != nil {
			return nil, fmt.Errorf("scan function symbol: %w", err)
		}
		fns = append(fns, f)
	}
	return fns, rows.Err()
}

// RawReferencesByType returns the staged rows of one query class in
// insertion order.
func (s *Store) RawReferencesByType(queryType string) ([]RawReference, error) {
	rows, err := s.db.Query(
		`SELECT id, query_type, query_symbol, source_file, source_function, line_number, COALESCE(line_text, '')
		 FROM raw_references WHERE query_type = ? ORDER BY id`, queryType)
	if err != nil {
		return nil, fmt.Errorf("list raw references: %w", err)
	}
	defer rows.Close()

	var refs []RawReference
	for rows.Next() {
		var r RawReference
		if err := rows.Scan(&r.ID, &r.QueryType, &r.QuerySymbol, &r.SourceFile,
			&r.SourceFunction, &r.LineNumber, &r.LineText); err != nil {
			return nil, fmt.Errorf("scan raw reference: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// SymbolsByFile returns all symbols defined in one file, by line number.
func (s *Store) SymbolsByFile(filePath string) ([]Symbol, error) {
	rows, err := s.db.Query(
		`SELECT id, name, type, COALESCE(kind_raw, ''), file_path, line_number,
			COALESCE(signature, ''), COALESCE(typeref, ''), COALESCE(scope, ''),
			COALESCE(scope_kind, ''), COALESCE(scope_name, ''), is_file_scope
		 FROM symbols WHERE file_path = ? ORDER BY line_number`, filePath)
	if err != nil {
		return nil, fmt.Errorf("symbols by file: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// SymbolByID returns one symbol, or nil if absent.
func (s *Store) SymbolByID(id int64) (*Symbol, error) {
	row := s.db.QueryRow(
		`SELECT id, name, type, COALESCE(kind_raw, ''), file_path, line_number,
			COALESCE(signature, ''), COALESCE(typeref, ''), COALESCE(scope, ''),
			COALESCE(scope_kind, ''), COALESCE(scope_name, ''), is_file_scope
		 FROM symbols WHERE id = ?`, id)
	sym, err := scanSymbolRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return sym, nil
}

// CountRows returns the row count of a known table. The table name is
// interpolated, so callers pass only fixed identifiers.
func (s *Store) CountRows(table string) (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// SymbolTypeCounts returns per-type symbol counts, most frequent first.
func (s *Store) SymbolTypeCounts() ([]struct {
	Type  string
	Count int64
}, error) {
	rows, err := s.db.Query(
		"SELECT type, COUNT(*) FROM symbols GROUP BY type ORDER BY COUNT(*) DESC, type")
	if err != nil {
		return nil, fmt.Errorf("symbol type counts: %w", err)
	}
	defer rows.Close()

	var out []struct {
		Type  string
		Count int64
	}
	for rows.Next() {
		var row struct {
			Type  string
			Count int64
		}
		if err := rows.Scan(&row.Type, &row.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetMetadata returns the value for a key, or "" if absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return v, nil
}

// SetMetadata upserts a single key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// SetMetadataBatch upserts several keys in one transaction.
func (s *Store) SetMetadataBatch(kv map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("metadata: prepare: %w", err)
	}
	defer stmt.Close()

	for k, v := range kv {
		if _, err := stmt.Exec(k, v); err != nil {
			return fmt.Errorf("metadata: set %s: %w", k, err)
		}
	}
	return tx.Commit()
}
