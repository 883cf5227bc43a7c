// Package metadata persists named query definitions in a small SQLite
// side-store, letting a caller save a QueryDTO once and re-run it by name
// instead of re-specifying columns/measures/filters on every invocation.
// This is control-plane metadata, never the analytic data itself, which
// always lives in the DuckDB QueryEngine. Saved query bodies are encrypted
// at rest with the AES-256-GCM envelope from internal/db/crypto, since a
// query definition can embed filter literals a caller
// may not want sitting in plaintext in a shared metadata file.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"olapcore/internal/db"
	"olapcore/internal/db/crypto"
	"olapcore/internal/olap"
)

const schema = `
CREATE TABLE IF NOT EXISTS saved_queries (
	name       TEXT PRIMARY KEY,
	query_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Store is a SQLite-backed catalog of named QueryDTOs.
type Store struct {
	db  *sql.DB
	enc *crypto.Encryptor
}

// Open opens (creating if necessary) a saved-query store at path. encKeyHex
// is the hex-encoded 32-byte AES key used to encrypt query bodies at rest;
// it is normally the same ENCRYPTION_KEY the rest of the deployment uses.
func Open(path, encKeyHex string) (*Store, error) {
	conn, err := db.OpenSQLite(path, "write", 0)
	if err != nil {
		return nil, fmt.Errorf("open saved-query store: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate saved-query store: %w", err)
	}
	enc, err := crypto.NewEncryptor(encKeyHex)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("build saved-query encryptor: %w", err)
	}
	return &Store{db: conn, enc: enc}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts a named query definition.
func (s *Store) Save(ctx context.Context, name string, query olap.QueryDTO) error {
	data, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("marshal query %q: %w", name, err)
	}
	sealed, err := s.enc.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("encrypt query %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO saved_queries (name, query_json, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET query_json = excluded.query_json`,
		name, sealed, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Load retrieves a named query definition. Returns sql.ErrNoRows if absent.
func (s *Store) Load(ctx context.Context, name string) (olap.QueryDTO, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx, `SELECT query_json FROM saved_queries WHERE name = ?`, name).Scan(&sealed)
	if err != nil {
		return olap.QueryDTO{}, err
	}
	raw, err := s.enc.Decrypt(sealed)
	if err != nil {
		return olap.QueryDTO{}, fmt.Errorf("decrypt saved query %q: %w", name, err)
	}
	var query olap.QueryDTO
	if err := json.Unmarshal([]byte(raw), &query); err != nil {
		return olap.QueryDTO{}, fmt.Errorf("unmarshal saved query %q: %w", name, err)
	}
	return query, nil
}

// List returns the names of all saved queries, most recently created first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM saved_queries ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a named query definition. Not an error if absent.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE name = ?`, name)
	return err
}
