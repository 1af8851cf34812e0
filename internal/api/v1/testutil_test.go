package v1_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/masgate/internal/domain"
)

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

// ---------------------------------------------------------------------------
// Mock TraceStore
// ---------------------------------------------------------------------------

type mockTraceStore struct {
	getByIDFunc              func(ctx context.Context, id uuid.UUID) (*domain.Trace, error)
	getByClientRequestIDFunc func(ctx context.Context, clientRequestID string) (*domain.Trace, error)
	listFunc                 func(ctx context.Context, limit, offset int) ([]*domain.Trace, error)
}

func (m *mockTraceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trace, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTraceStore) GetByClientRequestID(ctx context.Context, clientRequestID string) (*domain.Trace, error) {
	return m.getByClientRequestIDFunc(ctx, clientRequestID)
}

func (m *mockTraceStore) List(ctx context.Context, limit, offset int) ([]*domain.Trace, error) {
	return m.listFunc(ctx, limit, offset)
}
