package backends

import (
	"context"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/domain"
	"github.com/gosuda/masgate/internal/stream"
)

// EndpointHandler implements agent.Handler for single-agent serving
// endpoints. Streams are forwarded as they arrive; text deltas are
// accumulated only for the trace record.
type EndpointHandler struct {
	agentID  string
	endpoint string
	upstream agent.Upstream
}

func NewEndpointHandler(def *domain.Agent, upstream agent.Upstream) (agent.Handler, error) {
	endpoint := def.EndpointName
	if endpoint == "" {
		// Plain endpoints are commonly catalogued under their own name.
		endpoint = def.ID
	}

	return &EndpointHandler{
		agentID:  def.ID,
		endpoint: endpoint,
		upstream: upstream,
	}, nil
}

func (h *EndpointHandler) Stream(ctx context.Context, inv agent.Invocation, sink stream.Sink) (*agent.StreamResult, error) {
	log.Info().
		Str("endpoint", h.endpoint).
		Str("agent_id", h.agentID).
		Msg("backends: calling endpoint (streaming)")

	body, err := h.upstream.Stream(ctx, h.endpoint, inv.Header, inv.Messages)
	if err != nil {
		return nil, fmt.Errorf("backends.EndpointHandler.Stream: %w", err)
	}
	defer body.Close()

	relayed, err := stream.NewPassthroughRelay().Run(ctx, body, sink)
	if err != nil {
		return nil, fmt.Errorf("backends.EndpointHandler.Stream: %w", err)
	}

	res := &agent.StreamResult{
		Terminated:      relayed.Terminated,
		Forwarded:       relayed.Forwarded,
		Skipped:         relayed.Skipped,
		UpstreamID:      relayed.UpstreamID,
		ResponsePreview: relayed.Preview,
	}

	if res.UpstreamID != "" {
		log.Info().Str("endpoint", h.endpoint).Str("upstream_id", res.UpstreamID).Msg("backends: extracted upstream trace id")
	}

	return res, nil
}

func (h *EndpointHandler) Invoke(ctx context.Context, inv agent.Invocation) (*agent.Completion, error) {
	body, err := h.upstream.Invoke(ctx, h.endpoint, inv.Header, inv.Messages)
	if err != nil {
		return nil, fmt.Errorf("backends.EndpointHandler.Invoke: %w", err)
	}

	return agent.NewCompletion(h.endpoint, ExtractText(body)), nil
}

// ExtractText pulls the answer text out of a non-streaming response. It
// tries output[0].content[0].text, then predictions[0].candidates[0].text,
// and finally returns the body as is.
func ExtractText(body []byte) string {
	if text, err := jsonparser.GetString(body, "output", "[0]", "content", "[0]", "text"); err == nil && text != "" {
		return text
	}
	if text, err := jsonparser.GetString(body, "predictions", "[0]", "candidates", "[0]", "text"); err == nil && text != "" {
		return text
	}
	return string(body)
}
