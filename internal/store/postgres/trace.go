package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/masgate/internal/domain"
)

const pgUniqueViolation = "23505"

const traceColumns = `id, client_request_id, agent_id, deployment_type, endpoint_name, status,
	supervisor, handoff_count, summary, upstream_id, request_preview, response_preview,
	error, started_at, completed_at`

type TraceRepo struct {
	pool *pgxpool.Pool
}

func NewTraceRepo(pool *pgxpool.Pool) *TraceRepo {
	return &TraceRepo{pool: pool}
}

func (r *TraceRepo) Create(ctx context.Context, t *domain.Trace) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO traces (`+traceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.ClientRequestID, t.AgentID, t.DeploymentType, t.EndpointName, t.Status,
		t.Supervisor, t.HandoffCount, nullableJSON(t.Summary), t.UpstreamID, t.RequestPreview, t.ResponsePreview,
		t.Error, t.StartedAt, t.CompletedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("traceRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("traceRepo.Create: %w", err)
	}

	return nil
}

// Finish moves a running trace to its terminal state. Traces that already
// finished are left untouched and reported as domain.ErrConflict.
func (r *TraceRepo) Finish(ctx context.Context, t *domain.Trace) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE traces SET status = $1, supervisor = $2, handoff_count = $3, summary = $4,
		        upstream_id = $5, response_preview = $6, error = $7, completed_at = $8
		 WHERE id = $9 AND status = $10`,
		t.Status, t.Supervisor, t.HandoffCount, nullableJSON(t.Summary),
		t.UpstreamID, t.ResponsePreview, t.Error, t.CompletedAt,
		t.ID, domain.TraceStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("traceRepo.Finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("traceRepo.Finish: %w", domain.ErrConflict)
	}

	return nil
}

func (r *TraceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trace, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+traceColumns+` FROM traces WHERE id = $1`, id)

	t, err := scanTrace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("traceRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("traceRepo.GetByID: %w", err)
	}

	return t, nil
}

// GetByClientRequestID returns the most recent trace for clientRequestID.
func (r *TraceRepo) GetByClientRequestID(ctx context.Context, clientRequestID string) (*domain.Trace, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE client_request_id = $1
		 ORDER BY started_at DESC LIMIT 1`,
		clientRequestID,
	)

	t, err := scanTrace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("traceRepo.GetByClientRequestID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("traceRepo.GetByClientRequestID: %w", err)
	}

	return t, nil
}

func (r *TraceRepo) List(ctx context.Context, limit, offset int) ([]*domain.Trace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+traceColumns+` FROM traces
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.List: %w", err)
	}
	defer rows.Close()

	var traces []*domain.Trace
	for rows.Next() {
		t, scanErr := scanTrace(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("traceRepo.List: scan: %w", scanErr)
		}
		traces = append(traces, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("traceRepo.List: rows: %w", err)
	}

	return traces, nil
}

func scanTrace(row pgx.Row) (*domain.Trace, error) {
	var t domain.Trace
	var summary []byte

	err := row.Scan(
		&t.ID, &t.ClientRequestID, &t.AgentID, &t.DeploymentType, &t.EndpointName, &t.Status,
		&t.Supervisor, &t.HandoffCount, &summary, &t.UpstreamID, &t.RequestPreview, &t.ResponsePreview,
		&t.Error, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		t.Summary = summary
	}

	return &t, nil
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
