package agent

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gosuda/masgate/internal/serving"
	"github.com/gosuda/masgate/internal/stream"
)

// ErrMissingEndpoint is returned when a deployment needs an endpoint name and none is configured.
var ErrMissingEndpoint = errors.New("agent: endpoint_name is required") //nolint:gochecknoglobals // sentinel error

// ErrStreamingRequired is returned by deployments that only answer streaming requests.
var ErrStreamingRequired = errors.New("agent: deployment only supports streaming") //nolint:gochecknoglobals // sentinel error

// Invocation is one request to an agent deployment.
type Invocation struct {
	ClientRequestID string
	Messages        []serving.Message
	// Header holds the inbound request headers; used for token forwarding.
	Header http.Header
}

// StreamResult describes a finished streaming invocation.
type StreamResult struct {
	// Terminated is false when the upstream closed without [DONE].
	Terminated      bool
	Forwarded       int
	Skipped         int
	Summary         *stream.TraceSummary
	Supervisor      string
	UpstreamID      string
	ResponsePreview string
}

// Completion is an OpenAI-style chat.completion answer.
type Completion struct {
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   map[string]any `json:"usage"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      serving.Message `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// NewCompletion wraps text as a single-choice completion from model.
func NewCompletion(model, text string) *Completion {
	return &Completion{
		Object: "chat.completion",
		Model:  model,
		Choices: []Choice{{
			Index:        0,
			Message:      serving.Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: map[string]any{},
	}
}

// Upstream is the serving endpoint surface a handler calls.
type Upstream interface {
	Stream(ctx context.Context, endpoint string, inbound http.Header, messages []serving.Message) (io.ReadCloser, error)
	Invoke(ctx context.Context, endpoint string, inbound http.Header, messages []serving.Message) ([]byte, error)
}

// Handler runs invocations against one deployed agent.
type Handler interface {
	// Stream writes SSE frames to sink. An error returned before anything
	// was written to sink means the upstream call never started.
	Stream(ctx context.Context, inv Invocation, sink stream.Sink) (*StreamResult, error)

	// Invoke performs a non-streaming call.
	Invoke(ctx context.Context, inv Invocation) (*Completion, error)
}
