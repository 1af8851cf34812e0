package backends

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/domain"
	"github.com/gosuda/masgate/internal/stream"
)

// MASHandler implements agent.Handler for multi-agent supervisor endpoints.
// It forwards the upstream stream unchanged and appends a trace summary of
// the supervisor/specialist handoffs before [DONE].
type MASHandler struct {
	agentID  string
	endpoint string
	upstream agent.Upstream
}

func NewMASHandler(def *domain.Agent, upstream agent.Upstream) (agent.Handler, error) {
	if def.EndpointName == "" {
		return nil, fmt.Errorf("backends.NewMASHandler(%q): %w", def.ID, agent.ErrMissingEndpoint)
	}

	return &MASHandler{
		agentID:  def.ID,
		endpoint: def.EndpointName,
		upstream: upstream,
	}, nil
}

func (h *MASHandler) Stream(ctx context.Context, inv agent.Invocation, sink stream.Sink) (*agent.StreamResult, error) {
	log.Info().
		Str("endpoint", h.endpoint).
		Str("agent_id", h.agentID).
		Str("client_request_id", inv.ClientRequestID).
		Msg("backends: calling MAS endpoint (streaming)")

	body, err := h.upstream.Stream(ctx, h.endpoint, inv.Header, inv.Messages)
	if err != nil {
		return nil, fmt.Errorf("backends.MASHandler.Stream: %w", err)
	}
	defer body.Close()

	res, err := stream.NewRelay(inv.ClientRequestID).Run(ctx, body, sink)
	if err != nil {
		return nil, fmt.Errorf("backends.MASHandler.Stream: %w", err)
	}

	if !res.Terminated {
		log.Warn().
			Str("endpoint", h.endpoint).
			Str("client_request_id", inv.ClientRequestID).
			Msg("backends: upstream closed without [DONE]")
	}

	return &agent.StreamResult{
		Terminated:      res.Terminated,
		Forwarded:       res.Forwarded,
		Skipped:         res.Skipped,
		Summary:         res.Summary,
		Supervisor:      res.Supervisor,
		UpstreamID:      res.UpstreamID,
		ResponsePreview: res.Preview,
	}, nil
}

// Invoke is unsupported: supervisor traces only exist in the streamed form.
func (h *MASHandler) Invoke(context.Context, agent.Invocation) (*agent.Completion, error) {
	return nil, fmt.Errorf("backends.MASHandler.Invoke(%q): %w", h.agentID, agent.ErrStreamingRequired)
}
