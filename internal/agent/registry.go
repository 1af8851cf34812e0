package agent

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gosuda/masgate/internal/domain"
)

// ErrUnknownDeploymentType is returned when no handler factory is registered for a deployment type.
var ErrUnknownDeploymentType = errors.New("agent: unknown deployment type") //nolint:gochecknoglobals // sentinel error

// HandlerFactory creates a Handler for one catalog entry.
type HandlerFactory func(def *domain.Agent, upstream Upstream) (Handler, error)

// Registry manages handler factories keyed by deployment type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register adds a handler factory for a deployment type.
func (r *Registry) Register(deploymentType string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[deploymentType] = factory
}

// Create instantiates a handler for def using its deployment type.
func (r *Registry) Create(def *domain.Agent, upstream Upstream) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[def.DeploymentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", def.DeploymentType, ErrUnknownDeploymentType)
	}

	handler, err := factory(def, upstream)
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", def.DeploymentType, err)
	}

	return handler, nil
}

// Supports reports whether a factory is registered for deploymentType.
func (r *Registry) Supports(deploymentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[deploymentType]
	return ok
}

// Available returns registered deployment types in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.factories {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
