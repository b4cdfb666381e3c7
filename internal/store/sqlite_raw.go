package store

import (
	"context"
	"fmt"
)

// RawQuery executes query verbatim and returns each row as a column map.
func (s *SQLiteStore) RawQuery(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	defer closeRows(rows, "raw")

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("raw columns: %w", err)
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan raw row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw rows: %w", err)
	}
	return out, nil
}

// RawExec executes a statement verbatim.
func (s *SQLiteStore) RawExec(ctx context.Context, query string) (ExecResult, error) {
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return ExecResult{}, fmt.Errorf("raw exec: %w", err)
	}
	var out ExecResult
	if out.Changes, err = res.RowsAffected(); err != nil {
		return ExecResult{}, fmt.Errorf("get rows affected: %w", err)
	}
	if out.LastInsertRowID, err = res.LastInsertId(); err != nil {
		return ExecResult{}, fmt.Errorf("get last insert id: %w", err)
	}
	return out, nil
}
