package agent_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/domain"
)

const catalogYAML = `
default: sales
agents:
  - id: chat
    name: Plain chat
    deployment_type: databricks-endpoint
    endpoint_name: chat-endpoint
  - id: sales
    name: Sales supervisor
    description: Routes to the sales and inventory specialists
    deployment_type: agent-bricks-mas
    endpoint_name: mas-sales
`

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		c, err := agent.ParseCatalog([]byte(catalogYAML))
		require.NoError(t, err)

		assert.Equal(t, 2, c.Len())
		assert.Equal(t, "sales", c.DefaultID())

		def, err := c.Get("")
		require.NoError(t, err)
		assert.Equal(t, "mas-sales", def.EndpointName)
		assert.Equal(t, domain.DeploymentAgentBricksMAS, def.DeploymentType)

		list := c.List()
		require.Len(t, list, 2)
		assert.Equal(t, "chat", list[0].ID, "file order is kept")
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()

		c, err := agent.ParseCatalog(nil)
		require.NoError(t, err)
		assert.Zero(t, c.Len())

		_, err = c.Get("")
		assert.ErrorIs(t, err, agent.ErrUnknownAgent)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		t.Parallel()

		_, err := agent.ParseCatalog([]byte("agents:\n  - id: a\n    deployment_type: x\n    endpoint: typo\n"))
		require.Error(t, err)
	})
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		agents    []domain.Agent
		defaultID string
	}{
		{name: "missing id", agents: []domain.Agent{{DeploymentType: "x"}}},
		{name: "missing deployment type", agents: []domain.Agent{{ID: "a"}}},
		{name: "duplicate id", agents: []domain.Agent{{ID: "a", DeploymentType: "x"}, {ID: "a", DeploymentType: "y"}}},
		{name: "unknown default", agents: []domain.Agent{{ID: "a", DeploymentType: "x"}}, defaultID: "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := agent.NewCatalog(tt.agents, tt.defaultID)
			assert.ErrorIs(t, err, agent.ErrInvalidCatalog)
		})
	}
}

func TestCatalog_GetAndList(t *testing.T) {
	t.Parallel()

	c, err := agent.NewCatalog([]domain.Agent{{ID: "a", DeploymentType: "x"}, {ID: "b", DeploymentType: "y"}}, "")
	require.NoError(t, err)

	assert.Equal(t, "a", c.DefaultID(), "first agent is the default")

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)

	got, err := c.Get("b")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := c.Get("b")
	require.NoError(t, err)
	assert.Empty(t, again.Name, "Get returns a copy")
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := agent.LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = agent.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
