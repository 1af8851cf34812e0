package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/domain"
)

// AgentView is an agent catalog entry as exposed to the frontend.
type AgentView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	DeploymentType string `json:"deployment_type"`
	EndpointName   string `json:"endpoint_name,omitempty"`
	Default        bool   `json:"default"`
	Supported      bool   `json:"supported" doc:"Whether a handler exists for the deployment type"`
}

type ListAgentsInput struct{}

type ListAgentsOutput struct {
	Body []AgentView
}

type GetAgentInput struct {
	ID string `path:"id" minLength:"1" maxLength:"200" doc:"Agent ID"`
}

type GetAgentOutput struct {
	Body AgentView
}

func RegisterAgentRoutes(api huma.API, catalog AgentCatalog, registry DeploymentRegistry) {
	view := func(a *domain.Agent) AgentView {
		return AgentView{
			ID:             a.ID,
			Name:           a.DisplayName(),
			Description:    a.Description,
			DeploymentType: a.DeploymentType,
			EndpointName:   a.EndpointName,
			Default:        a.ID == catalog.DefaultID(),
			Supported:      registry.Supports(a.DeploymentType),
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List configured agents",
		Tags:        []string{"Agents"},
	}, func(_ context.Context, _ *ListAgentsInput) (*ListAgentsOutput, error) {
		agents := catalog.List()
		out := make([]AgentView, 0, len(agents))
		for i := range agents {
			out = append(out, view(&agents[i]))
		}
		return &ListAgentsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get an agent by ID",
		Tags:        []string{"Agents"},
	}, func(_ context.Context, input *GetAgentInput) (*GetAgentOutput, error) {
		def, err := catalog.Get(input.ID)
		if err != nil {
			if errors.Is(err, agent.ErrUnknownAgent) {
				return nil, huma.Error404NotFound("agent not found")
			}
			return nil, huma.Error500InternalServerError("failed to get agent", err)
		}

		return &GetAgentOutput{Body: view(def)}, nil
	})
}
