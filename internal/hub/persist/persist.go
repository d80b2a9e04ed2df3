// Package persist stores room snapshots in Postgres so the hub can reload
// them after a restart. Rooms are never explicitly deleted; abandoned rooms
// simply sit in the table.
package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS wheel_room (
    code        TEXT PRIMARY KEY,
    doc         JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Store persists room documents keyed by room code.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create room schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveRoom upserts the full document for one room. A nil doc removes the row.
func (s *Store) SaveRoom(ctx context.Context, code string, doc []byte) error {
	if doc == nil {
		_, err := s.pool.Exec(ctx, `DELETE FROM wheel_room WHERE code = $1`, code)
		if err != nil {
			return fmt.Errorf("delete room %s: %w", code, err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wheel_room (code, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (code) DO UPDATE SET doc = excluded.doc, updated_at = NOW()`,
		code, doc,
	)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", code, err)
	}
	return nil
}

// LoadRooms returns every stored room document keyed by code.
func (s *Store) LoadRooms(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, doc FROM wheel_room`)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var code string
		var doc []byte
		if err := rows.Scan(&code, &doc); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		out[code] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room rows: %w", err)
	}
	log.Info().Int("rooms", len(out)).Msg("loaded persisted rooms")
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
