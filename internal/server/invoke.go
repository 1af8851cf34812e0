package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/serving"
	"github.com/gosuda/masgate/internal/stream"
)

// HeaderClientRequestID echoes the correlation id of an invocation.
const HeaderClientRequestID = "X-Client-Request-Id"

const maxInvokeBody = 1 << 20

// Invoker runs agent invocations. *agent.Orchestrator satisfies this interface.
type Invoker interface {
	Stream(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.StreamResult, error)
	Invoke(ctx context.Context, req agent.Request) (*agent.Completion, error)
}

type invokeRequest struct {
	AgentID         string            `json:"agent_id"`
	Messages        []serving.Message `json:"messages"`
	Stream          *bool             `json:"stream"`
	ClientRequestID string            `json:"client_request_id"`
}

// streaming defaults to true; the chat frontend always streams.
func (r *invokeRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

type invokeHandler struct {
	invoker Invoker
}

func newInvokeHandler(invoker Invoker) *invokeHandler {
	return &invokeHandler{invoker: invoker}
}

func (h *invokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvokeBody)).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Messages) == 0 {
		writeProblem(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	clientRequestID := body.ClientRequestID
	if clientRequestID == "" {
		clientRequestID = uuid.NewString()
	}
	w.Header().Set(HeaderClientRequestID, clientRequestID)

	req := agent.Request{
		AgentID:         body.AgentID,
		ClientRequestID: clientRequestID,
		Messages:        body.Messages,
		Header:          r.Header,
	}

	if !body.streaming() {
		h.invoke(w, r, req)
		return
	}
	h.stream(w, r, req)
}

func (h *invokeHandler) invoke(w http.ResponseWriter, r *http.Request, req agent.Request) {
	completion, err := h.invoker.Invoke(r.Context(), req)
	if err != nil {
		writeInvokeError(w, req.ClientRequestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(completion); err != nil {
		log.Debug().Err(err).Str("client_request_id", req.ClientRequestID).Msg("server: write completion")
	}
}

func (h *invokeHandler) stream(w http.ResponseWriter, r *http.Request, req agent.Request) {
	rc := http.NewResponseController(w)
	// Agent runs outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("server: clear write deadline")
	}

	sink := &sseSink{w: w, rc: rc}
	res, err := h.invoker.Stream(r.Context(), req, sink)
	if err != nil {
		if !sink.started {
			writeInvokeError(w, req.ClientRequestID, err)
			return
		}
		log.Warn().Err(err).
			Str("client_request_id", req.ClientRequestID).
			Int("frames", sink.frames).
			Msg("server: stream ended early")
		return
	}

	// An upstream that closed without sending anything still gets a valid,
	// empty event stream.
	if !sink.started {
		sink.start()
	}

	log.Info().
		Str("client_request_id", req.ClientRequestID).
		Int("frames", sink.frames).
		Int("forwarded", res.Forwarded).
		Int("skipped", res.Skipped).
		Bool("terminated", res.Terminated).
		Msg("server: stream finished")
}

// sseSink writes frames to the client, flushing after each one. Response
// headers are committed on the first frame so that errors raised before
// any output can still be reported as a problem response.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	frames  int
}

func (s *sseSink) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseSink) WriteFrame(frame []byte) error {
	if !s.started {
		s.start()
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("server.sseSink.WriteFrame: %w", err)
	}
	s.frames++
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("server.sseSink.WriteFrame: flush: %w", err)
	}
	return nil
}

// writeInvokeError maps invocation errors to problem responses.
func writeInvokeError(w http.ResponseWriter, clientRequestID string, err error) {
	var statusErr *serving.StatusError

	switch {
	case errors.Is(err, agent.ErrUnknownAgent):
		writeProblem(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, agent.ErrStreamingRequired):
		writeProblem(w, http.StatusBadRequest, "agent only supports streaming")
	case errors.Is(err, agent.ErrMissingEndpoint), errors.Is(err, agent.ErrUnknownDeploymentType):
		log.Error().Err(err).Str("client_request_id", clientRequestID).Msg("server: agent misconfigured")
		writeProblem(w, http.StatusInternalServerError, "agent is misconfigured")
	case errors.Is(err, serving.ErrNoCredentials):
		writeProblem(w, http.StatusUnauthorized, "no credentials for the serving endpoint")
	case errors.As(err, &statusErr):
		log.Warn().Err(err).Str("client_request_id", clientRequestID).Msg("server: upstream rejected request")
		writeProblem(w, http.StatusBadGateway, fmt.Sprintf("serving endpoint returned %d", statusErr.StatusCode))
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is listening.
	default:
		log.Error().Err(err).Str("client_request_id", clientRequestID).Msg("server: invocation failed")
		writeProblem(w, http.StatusBadGateway, "serving endpoint request failed")
	}
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(huma.NewError(status, detail))
}
