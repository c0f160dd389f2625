package postgres

import (
	"context"
	"fmt"
	"sort"
)

// LoadAll returns every row of the settings table as key -> raw value.
func (s *Store) LoadAll(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s`, s.tables.Config)
	return s.loadValues(ctx, query)
}

// Load returns the requested keys; absent keys are omitted from the map.
func (s *Store) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE config_key = ANY($1)`, s.tables.Config)
	return s.loadValues(ctx, query, keys)
}

func (s *Store) loadValues(ctx context.Context, query string, args ...any) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, datastoreErr("load settings", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key string
		var value *string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, datastoreErr("scan setting", err)
		}
		if value != nil {
			values[key] = *value
		} else {
			values[key] = ""
		}
	}
	if err := rows.Err(); err != nil {
		return nil, datastoreErr("iterate settings", err)
	}
	return values, nil
}

// Save upserts all values in one transaction, in key order.
func (s *Store) Save(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := fmt.Sprintf(`
INSERT INTO %s (config_key, config_value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (config_key) DO UPDATE
SET config_value = EXCLUDED.config_value, updated_at = NOW()`, s.tables.Config)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return datastoreErr("begin settings save", err)
	}
	for _, k := range keys {
		if _, err := tx.Exec(ctx, query, k, values[k]); err != nil {
			rollback(ctx, tx)
			return datastoreErr("save setting "+k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return datastoreErr("commit settings save", err)
	}
	return nil
}
