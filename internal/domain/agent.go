package domain

// Deployment types an agent can be served with.
const (
	DeploymentAgentBricksMAS     = "agent-bricks-mas"
	DeploymentDatabricksEndpoint = "databricks-endpoint"
)

// Agent is one entry of the agent catalog.
type Agent struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description,omitempty"`
	DeploymentType string `yaml:"deployment_type" json:"deployment_type"`
	EndpointName   string `yaml:"endpoint_name" json:"endpoint_name,omitempty"`
}

// DisplayName returns Name, or ID when no name is configured.
func (a *Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
