package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/masgate/internal/domain"
)

// schema is applied on startup. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS traces (
	id                UUID PRIMARY KEY,
	client_request_id TEXT        NOT NULL,
	agent_id          TEXT        NOT NULL,
	deployment_type   TEXT        NOT NULL,
	endpoint_name     TEXT        NOT NULL DEFAULT '',
	status            TEXT        NOT NULL,
	supervisor        TEXT        NOT NULL DEFAULT '',
	handoff_count     INTEGER     NOT NULL DEFAULT 0,
	summary           JSONB,
	upstream_id       TEXT        NOT NULL DEFAULT '',
	request_preview   TEXT        NOT NULL DEFAULT '',
	response_preview  TEXT        NOT NULL DEFAULT '',
	error             TEXT        NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS traces_client_request_id_idx ON traces (client_request_id);
CREATE INDEX IF NOT EXISTS traces_started_at_idx ON traces (started_at DESC);
`

type Store struct {
	pool   *pgxpool.Pool
	traces *TraceRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:   pool,
		traces: NewTraceRepo(pool),
	}, nil
}

// Migrate creates the tables the gateway needs.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Store.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Traces() domain.TraceRepository { return s.traces }
