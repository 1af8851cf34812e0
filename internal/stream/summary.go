package stream

import (
	"encoding/json"
)

// DeploymentTypeMAS identifies summaries built from multi-agent supervisor streams.
const DeploymentTypeMAS = "agent-bricks-mas"

// SummaryStatusCompleted is the only status a summary is built with.
const SummaryStatusCompleted = "completed"

// HandoffSummary is one completed handoff as reported to the client.
type HandoffSummary struct {
	Specialist   string          `json:"specialist"`
	Request      json.RawMessage `json:"request"`
	Response     json.RawMessage `json:"response"`
	MessageCount int             `json:"message_count"`
	Messages     []string        `json:"messages"`
}

// TraceSummary is the hierarchical supervisor/specialist view of a stream.
type TraceSummary struct {
	TraceID        string           `json:"trace_id"`
	DeploymentType string           `json:"deployment_type"`
	Supervisor     *string          `json:"supervisor"`
	TotalHandoffs  int              `json:"total_handoffs"`
	Handoffs       []HandoffSummary `json:"handoffs"`
	FunctionCalls  []FunctionCall   `json:"function_calls"`
	Status         string           `json:"status"`
	DurationMS     int64            `json:"duration_ms"`
}

// BuildSummary assembles a TraceSummary from accumulated state. It is pure:
// the same traceID and state always produce the same summary.
func BuildSummary(traceID string, st State) TraceSummary {
	var supervisor *string
	if st.Supervisor != "" {
		name := st.Supervisor
		supervisor = &name
	}

	handoffs := make([]HandoffSummary, 0, len(st.Handoffs))
	for _, h := range st.Handoffs {
		messages := h.Messages
		if messages == nil {
			messages = []string{}
		}
		handoffs = append(handoffs, HandoffSummary{
			Specialist:   h.Specialist,
			Request:      h.Request,
			Response:     h.Response,
			MessageCount: len(messages),
			Messages:     messages,
		})
	}

	calls := st.FunctionCalls
	if calls == nil {
		calls = []FunctionCall{}
	}

	return TraceSummary{
		TraceID:        traceID,
		DeploymentType: DeploymentTypeMAS,
		Supervisor:     supervisor,
		TotalHandoffs:  len(handoffs),
		Handoffs:       handoffs,
		FunctionCalls:  calls,
		Status:         SummaryStatusCompleted,
		// Not measurable from the stream alone.
		DurationMS: 0,
	}
}
