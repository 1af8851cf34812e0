package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TraceStatus string

const (
	TraceStatusRunning   TraceStatus = "running"
	TraceStatusCompleted TraceStatus = "completed"
	TraceStatusFailed    TraceStatus = "failed"
)

// ValidTransition reports whether a trace may move from s to next. Only a
// running trace can change state.
func (s TraceStatus) ValidTransition(next TraceStatus) bool {
	return s == TraceStatusRunning && (next == TraceStatusCompleted || next == TraceStatusFailed)
}

// Trace is the persisted record of one agent invocation.
type Trace struct {
	ID              uuid.UUID       `json:"id"`
	ClientRequestID string          `json:"client_request_id"`
	AgentID         string          `json:"agent_id"`
	DeploymentType  string          `json:"deployment_type"`
	EndpointName    string          `json:"endpoint_name"`
	Status          TraceStatus     `json:"status"`
	Supervisor      string          `json:"supervisor,omitempty"`
	HandoffCount    int             `json:"handoff_count"`
	Summary         json.RawMessage `json:"summary,omitempty"` // nil when no summary was emitted
	UpstreamID      string          `json:"upstream_id,omitempty"`
	RequestPreview  string          `json:"request_preview"`
	ResponsePreview string          `json:"response_preview,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

type TraceRepository interface {
	Create(ctx context.Context, t *Trace) error
	// Finish stores the terminal status and results of t.
	Finish(ctx context.Context, t *Trace) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trace, error)
	GetByClientRequestID(ctx context.Context, clientRequestID string) (*Trace, error)
	List(ctx context.Context, limit, offset int) ([]*Trace, error)
}
