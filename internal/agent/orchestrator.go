package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/domain"
	"github.com/gosuda/masgate/internal/serving"
	"github.com/gosuda/masgate/internal/stream"
)

const (
	publishTimeout = 5 * time.Second
	finishTimeout  = 10 * time.Second
	previewLimit   = 2000

	// LifecycleChannel receives trace started/finished events for all traces.
	LifecycleChannel = "traces"

	noUserMessage = "No user message"
)

// Lifecycle event types published on LifecycleChannel.
const (
	EventTraceStarted   = "trace.started"
	EventTraceCompleted = "trace.completed"
	EventTraceFailed    = "trace.failed"
)

// PubSubPublisher abstracts the Redis pub/sub publish operation.
type PubSubPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Request is one call routed through the orchestrator.
type Request struct {
	AgentID string
	// ClientRequestID correlates the call with frontend feedback; generated when empty.
	ClientRequestID string
	Messages        []serving.Message
	Header          http.Header
}

// LifecycleEvent is published when a trace starts or finishes.
type LifecycleEvent struct {
	Type            string `json:"type"`
	TraceID         string `json:"trace_id"`
	ClientRequestID string `json:"client_request_id"`
	AgentID         string `json:"agent_id"`
	Handoffs        int    `json:"handoffs,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Orchestrator resolves catalog agents to handlers and runs invocations,
// recording each as a trace and fanning forwarded frames out to followers.
// traces and pubsub may be nil.
type Orchestrator struct {
	catalog  *Catalog
	registry *Registry
	upstream Upstream
	traces   domain.TraceRepository
	pubsub   PubSubPublisher

	// handlers caches constructed handlers by agent id.
	handlers map[string]Handler
	mu       sync.Mutex
}

func NewOrchestrator(
	catalog *Catalog,
	registry *Registry,
	upstream Upstream,
	traces domain.TraceRepository,
	pubsub PubSubPublisher,
) *Orchestrator {
	return &Orchestrator{
		catalog:  catalog,
		registry: registry,
		upstream: upstream,
		traces:   traces,
		pubsub:   pubsub,
		handlers: make(map[string]Handler),
	}
}

// Catalog returns the agent catalog.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Resolve returns the catalog entry and handler for agentID. An empty id
// selects the default agent.
func (o *Orchestrator) Resolve(agentID string) (*domain.Agent, Handler, error) {
	def, err := o.catalog.Get(agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("agent.Orchestrator.Resolve: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if h, ok := o.handlers[def.ID]; ok {
		return def, h, nil
	}

	h, err := o.registry.Create(def, o.upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("agent.Orchestrator.Resolve(%q): %w", def.ID, err)
	}
	o.handlers[def.ID] = h

	return def, h, nil
}

// Preflight constructs a handler for every catalog agent and returns the
// configuration errors found.
func (o *Orchestrator) Preflight() error {
	var errs []error
	for _, a := range o.catalog.List() {
		if _, _, err := o.Resolve(a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stream runs a streaming invocation and writes frames to sink. Errors
// returned before the handler wrote anything leave sink untouched.
func (o *Orchestrator) Stream(ctx context.Context, req Request, sink stream.Sink) (*StreamResult, error) {
	def, h, err := o.Resolve(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.Stream: %w", err)
	}

	inv := o.invocation(req)
	trace := o.startTrace(ctx, def, inv)

	if o.pubsub != nil {
		sink = &publishingSink{next: sink, pubsub: o.pubsub, channel: TraceChannel(inv.ClientRequestID), ctx: ctx}
	}

	res, err := h.Stream(ctx, inv, sink)
	if err != nil {
		o.finishTrace(ctx, trace, nil, "", err)
		return nil, fmt.Errorf("agent.Orchestrator.Stream: %w", err)
	}

	o.finishTrace(ctx, trace, res, res.ResponsePreview, nil)

	log.Info().
		Str("client_request_id", inv.ClientRequestID).
		Str("agent_id", def.ID).
		Bool("terminated", res.Terminated).
		Int("forwarded", res.Forwarded).
		Msg("agent: stream finished")

	return res, nil
}

// Invoke runs a non-streaming invocation.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (*Completion, error) {
	def, h, err := o.Resolve(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent.Orchestrator.Invoke: %w", err)
	}

	inv := o.invocation(req)
	trace := o.startTrace(ctx, def, inv)

	completion, err := h.Invoke(ctx, inv)
	if err != nil {
		o.finishTrace(ctx, trace, nil, "", err)
		return nil, fmt.Errorf("agent.Orchestrator.Invoke: %w", err)
	}

	var preview string
	if len(completion.Choices) > 0 {
		preview = completion.Choices[0].Message.Content
	}
	o.finishTrace(ctx, trace, nil, preview, nil)

	return completion, nil
}

func (o *Orchestrator) invocation(req Request) Invocation {
	crid := req.ClientRequestID
	if crid == "" {
		crid = uuid.NewString()
	}
	return Invocation{
		ClientRequestID: crid,
		Messages:        req.Messages,
		Header:          req.Header,
	}
}

func (o *Orchestrator) startTrace(ctx context.Context, def *domain.Agent, inv Invocation) *domain.Trace {
	trace := &domain.Trace{
		ID:              uuid.New(),
		ClientRequestID: inv.ClientRequestID,
		AgentID:         def.ID,
		DeploymentType:  def.DeploymentType,
		EndpointName:    def.EndpointName,
		Status:          domain.TraceStatusRunning,
		RequestPreview:  truncatePreview(requestPreview(inv.Messages)),
		StartedAt:       time.Now(),
	}

	if o.traces != nil {
		if err := o.traces.Create(ctx, trace); err != nil {
			log.Error().Err(err).Str("client_request_id", trace.ClientRequestID).Msg("agent.startTrace: failed to record trace")
		}
	}

	o.publishLifecycle(ctx, LifecycleEvent{
		Type:            EventTraceStarted,
		TraceID:         trace.ID.String(),
		ClientRequestID: trace.ClientRequestID,
		AgentID:         trace.AgentID,
	})

	return trace
}

func (o *Orchestrator) finishTrace(ctx context.Context, trace *domain.Trace, res *StreamResult, preview string, runErr error) {
	// The client may be gone; the record must still be closed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	now := time.Now()
	trace.CompletedAt = &now
	trace.ResponsePreview = truncatePreview(preview)

	evt := LifecycleEvent{
		TraceID:         trace.ID.String(),
		ClientRequestID: trace.ClientRequestID,
		AgentID:         trace.AgentID,
	}

	if runErr != nil {
		trace.Status = domain.TraceStatusFailed
		trace.Error = runErr.Error()
		evt.Type = EventTraceFailed
		evt.Error = trace.Error
	} else {
		trace.Status = domain.TraceStatusCompleted
		evt.Type = EventTraceCompleted
	}

	if res != nil {
		trace.Supervisor = res.Supervisor
		trace.UpstreamID = res.UpstreamID
		if res.Summary != nil {
			trace.HandoffCount = res.Summary.TotalHandoffs
			evt.Handoffs = res.Summary.TotalHandoffs
			if b, err := json.Marshal(res.Summary); err == nil {
				trace.Summary = b
			}
		}
	}

	if o.traces != nil {
		if err := o.traces.Finish(ctx, trace); err != nil {
			log.Error().Err(err).Str("client_request_id", trace.ClientRequestID).Msg("agent.finishTrace: failed to finish trace")
		}
	}

	o.publishLifecycle(ctx, evt)

	// Followers of a stream that ended without [DONE] learn about it here.
	if o.pubsub != nil {
		if frame, err := stream.EncodeJSON(evt); err == nil {
			o.publish(ctx, TraceChannel(trace.ClientRequestID), frame)
		}
	}
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, evt LifecycleEvent) {
	if o.pubsub == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	o.publish(ctx, LifecycleChannel, payload)
}

func (o *Orchestrator) publish(ctx context.Context, channel string, payload []byte) {
	if o.pubsub == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.pubsub.Publish(ctx, channel, payload); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("agent.publish: failed to publish")
	}
}

// publishingSink forwards frames to next and publishes each one for live
// followers. Publish failures never interrupt the client stream.
type publishingSink struct {
	next    stream.Sink
	pubsub  PubSubPublisher
	channel string
	ctx     context.Context //nolint:containedctx // scoped to one stream
}

func (s *publishingSink) WriteFrame(frame []byte) error {
	if err := s.next.WriteFrame(frame); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), publishTimeout)
	defer cancel()
	if err := s.pubsub.Publish(ctx, s.channel, frame); err != nil {
		log.Error().Err(err).Str("channel", s.channel).Msg("agent.publishingSink: failed to publish frame")
	}
	return nil
}

// TraceChannel is the pub/sub channel carrying the forwarded frames of one
// trace, followed by its completed or failed lifecycle event.
func TraceChannel(clientRequestID string) string {
	return "trace:" + clientRequestID
}

func requestPreview(messages []serving.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return noUserMessage
}

func truncatePreview(s string) string {
	return stream.TruncateUTF8(s, previewLimit)
}
