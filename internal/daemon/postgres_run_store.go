package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRunStore is the optional durable RunStore backend, the daemon's
// durable alternative to the bounded in-memory ring. Built on a
// pgxpool.Pool with context-scoped Exec/QueryRow, generalized from a
// job-queue schema to a single JSONB run-record table.
//
// Schema (created out of band by the deployer, not by this package):
//
//	CREATE TABLE hydra_runs (
//	    id TEXT PRIMARY KEY,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    record JSONB NOT NULL
//	);
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresRunStore connects to url and returns a ready PostgresRunStore.
func OpenPostgresRunStore(ctx context.Context, url string) (*PostgresRunStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &PostgresRunStore{pool: pool}, nil
}

func (s *PostgresRunStore) Close() {
	s.pool.Close()
}

// Save upserts r by id, matching the bounded in-memory store's
// save-is-also-update contract for status transitions.
func (s *PostgresRunStore) Save(r Run) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	_, _ = s.pool.Exec(context.Background(), `
		INSERT INTO hydra_runs (id, created_at, record)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record
	`, r.ID, r.CreatedAt, data)
}

func (s *PostgresRunStore) Get(id string) (Run, bool) {
	var data []byte
	err := s.pool.QueryRow(context.Background(), `SELECT record FROM hydra_runs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Run{}, false
		}
		return Run{}, false
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return Run{}, false
	}
	return r, true
}

// List returns every run, newest first. Unlike the in-memory store,
// PostgresRunStore keeps unbounded history; the MaxStoredRuns bound only
// applies to bounded in-memory storage and does not apply once a durable
// store is configured.
func (s *PostgresRunStore) List() []Run {
	rows, err := s.pool.Query(context.Background(), `SELECT record FROM hydra_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var r Run
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

var _ RunStore = (*PostgresRunStore)(nil)
