package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/masgate/internal/domain"
)

// AgentCatalog abstracts the agent catalog for handler testing.
// *agent.Catalog satisfies this interface.
type AgentCatalog interface {
	List() []domain.Agent
	Get(id string) (*domain.Agent, error)
	DefaultID() string
}

// DeploymentRegistry reports which deployment types have a handler.
// *agent.Registry satisfies this interface.
type DeploymentRegistry interface {
	Supports(deploymentType string) bool
}

// TraceStore is the read side of domain.TraceRepository.
type TraceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Trace, error)
	GetByClientRequestID(ctx context.Context, clientRequestID string) (*domain.Trace, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Trace, error)
}
