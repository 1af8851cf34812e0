package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gosuda/masgate/internal/domain"
)

// ErrUnknownAgent is returned when a requested agent id is not in the catalog.
var ErrUnknownAgent = errors.New("agent: unknown agent") //nolint:gochecknoglobals // sentinel error

// ErrInvalidCatalog is returned for catalog files that fail validation.
var ErrInvalidCatalog = errors.New("agent: invalid catalog") //nolint:gochecknoglobals // sentinel error

type catalogFile struct {
	Default string         `yaml:"default"`
	Agents  []domain.Agent `yaml:"agents"`
}

// Catalog is the immutable set of agents this gateway can call.
type Catalog struct {
	agents    []domain.Agent
	index     map[string]int
	defaultID string
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent.LoadCatalog: %w", err)
	}

	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("agent.LoadCatalog(%s): %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog. Unknown keys are rejected.
//
//	default: sales
//	agents:
//	  - id: sales
//	    name: Sales supervisor
//	    deployment_type: agent-bricks-mas
//	    endpoint_name: mas-sales
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("agent.ParseCatalog: %w", err)
	}

	return NewCatalog(file.Agents, file.Default)
}

// NewCatalog validates agents and builds a catalog. An empty defaultID
// selects the first agent.
func NewCatalog(agents []domain.Agent, defaultID string) (*Catalog, error) {
	c := &Catalog{
		agents: make([]domain.Agent, 0, len(agents)),
		index:  make(map[string]int, len(agents)),
	}

	for i, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent.NewCatalog: agents[%d]: missing id: %w", i, ErrInvalidCatalog)
		}
		if a.DeploymentType == "" {
			return nil, fmt.Errorf("agent.NewCatalog: agent %q: missing deployment_type: %w", a.ID, ErrInvalidCatalog)
		}
		if _, dup := c.index[a.ID]; dup {
			return nil, fmt.Errorf("agent.NewCatalog: duplicate agent %q: %w", a.ID, ErrInvalidCatalog)
		}
		c.index[a.ID] = len(c.agents)
		c.agents = append(c.agents, a)
	}

	switch {
	case defaultID != "":
		if _, ok := c.index[defaultID]; !ok {
			return nil, fmt.Errorf("agent.NewCatalog: default %q not in catalog: %w", defaultID, ErrInvalidCatalog)
		}
		c.defaultID = defaultID
	case len(c.agents) > 0:
		c.defaultID = c.agents[0].ID
	}

	return c, nil
}

// Get returns the agent with id. An empty id selects the default agent.
func (c *Catalog) Get(id string) (*domain.Agent, error) {
	if id == "" {
		id = c.defaultID
	}

	i, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("agent.Catalog.Get(%q): %w", id, ErrUnknownAgent)
	}

	a := c.agents[i]
	return &a, nil
}

// List returns the agents in file order.
func (c *Catalog) List() []domain.Agent {
	out := make([]domain.Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// DefaultID returns the id used when a request names no agent.
func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// Len returns the number of agents.
func (c *Catalog) Len() int {
	return len(c.agents)
}
