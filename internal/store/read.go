package store

import (
	"context"
	"fmt"
)

// SelectIDs runs a query and returns the first column of every row, in
// row order. Returns an empty slice (not nil) when nothing matches.
func (s *Store) SelectIDs(ctx context.Context, query string, args ...any) ([]any, error) {
	rows, err := s.SelectRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			return nil, fmt.Errorf("query returned no columns")
		}
		ids = append(ids, row[0])
	}
	return ids, nil
}

// SelectRows runs a query and returns every row as its column values.
// Text columns read as strings.
func (s *Store) SelectRows(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := [][]any{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
