package agent_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/domain"
	"github.com/gosuda/masgate/internal/stream"
)

// --- stub Handler for registry tests ---

type stubHandler struct {
	agentID string
}

func (s *stubHandler) Stream(context.Context, agent.Invocation, stream.Sink) (*agent.StreamResult, error) {
	return &agent.StreamResult{}, nil
}

func (s *stubHandler) Invoke(context.Context, agent.Invocation) (*agent.Completion, error) {
	return agent.NewCompletion(s.agentID, ""), nil
}

func stubFactory(def *domain.Agent, _ agent.Upstream) (agent.Handler, error) {
	return &stubHandler{agentID: def.ID}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register(domain.DeploymentAgentBricksMAS, stubFactory)

		h, err := reg.Create(&domain.Agent{ID: "mas", DeploymentType: domain.DeploymentAgentBricksMAS}, nil)

		require.NoError(t, err)
		require.NotNil(t, h)
		assert.True(t, reg.Supports(domain.DeploymentAgentBricksMAS))
	})

	t.Run("unknown deployment type returns ErrUnknownDeploymentType", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()

		h, err := reg.Create(&domain.Agent{ID: "x", DeploymentType: "lambda"}, nil)

		require.Error(t, err)
		assert.Nil(t, h)
		assert.ErrorIs(t, err, agent.ErrUnknownDeploymentType)
		assert.False(t, reg.Supports("lambda"))
	})

	t.Run("factory error propagated", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register("broken", func(*domain.Agent, agent.Upstream) (agent.Handler, error) {
			return nil, agent.ErrMissingEndpoint
		})

		h, err := reg.Create(&domain.Agent{ID: "b", DeploymentType: "broken"}, nil)

		require.Error(t, err)
		assert.Nil(t, h)
		assert.ErrorIs(t, err, agent.ErrMissingEndpoint)
	})

	t.Run("Available returns sorted names", func(t *testing.T) {
		t.Parallel()

		reg := agent.NewRegistry()
		reg.Register(domain.DeploymentDatabricksEndpoint, stubFactory)
		reg.Register(domain.DeploymentAgentBricksMAS, stubFactory)

		assert.Equal(t, []string{"agent-bricks-mas", "databricks-endpoint"}, reg.Available())
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := agent.NewRegistry()
	reg.Register(domain.DeploymentAgentBricksMAS, stubFactory)

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		errList []error
	)

	for i := range 10 {
		wg.Go(func() {
			reg.Register("type-"+strconv.Itoa(i), stubFactory)
		})
	}

	for range 10 {
		wg.Go(func() {
			if _, err := reg.Create(&domain.Agent{ID: "mas", DeploymentType: domain.DeploymentAgentBricksMAS}, nil); err != nil {
				errMu.Lock()
				errList = append(errList, err)
				errMu.Unlock()
			}
		})
	}

	for range 5 {
		wg.Go(func() {
			_ = reg.Available()
		})
	}

	wg.Wait()

	require.NoError(t, errors.Join(errList...))
	assert.Len(t, reg.Available(), 11)
}
