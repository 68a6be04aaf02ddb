package store

import "database/sql"

// nullable maps "" to NULL so optional text columns stay genuinely absent.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbolInto(sc rowScanner) (*Symbol, error) {
	var sym Symbol
	var fileScope string
	err := sc.Scan(&sym.ID, &sym.Name, &sym.Type, &sym.KindRaw, &sym.FilePath,
		&sym.LineNumber, &sym.Signature, &sym.Typeref, &sym.Scope,
		&sym.ScopeKind, &sym.ScopeName, &fileScope)
	if err != nil {
		return nil, err
	}
	sym.IsFileScope = FileScope(fileScope)
	return &sym, nil
}

func scanSymbolRow(row *sql.Row) (*Symbol, error) {
	return scanSymbolInto(row)
}

func scanSymbols(rows *sql.Rows) ([]Symbol, error) {
	var syms []Symbol
	for rows.Next() {
		sym, err := scanSymbolInto(rows)
		if err != nil {
			return nil, err
		}
		syms = append(syms, *sym)
	}
	return syms, rows.Err()
}
