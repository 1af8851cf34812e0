package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/rs/zerolog/log"
)

// Synthesized frame types.
const (
	FrameTypeClientRequestID = "trace.client_request_id"
	FrameTypeSummary         = "trace.summary"
)

// Sink receives encoded SSE frames in order.
type Sink interface {
	WriteFrame(frame []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame []byte) error

func (f SinkFunc) WriteFrame(frame []byte) error { return f(frame) }

// Result describes a finished relay.
type Result struct {
	ClientRequestID string
	// Terminated is set when the upstream sent the terminal marker.
	Terminated bool
	// Summary is nil unless at least one handoff completed before the marker.
	Summary   *TraceSummary
	Forwarded int
	Skipped   int
	// Supervisor and Preview are filled even when no summary was emitted.
	Supervisor string
	Preview    string
	UpstreamID string
}

type correlationFrame struct {
	Type            string `json:"type"`
	ClientRequestID string `json:"client_request_id"`
}

type summaryFrame struct {
	Type         string        `json:"type"`
	TraceSummary *TraceSummary `json:"traceSummary"`
}

// Relay forwards an upstream stream unchanged while a Tracker reconstructs
// the handoff trace. One Relay serves exactly one stream.
type Relay struct {
	clientRequestID string
	// synthesize enables the correlation and summary frames.
	synthesize bool
	tracker    *Tracker
	result     Result
}

// NewRelay returns a relay bound to an external correlation identifier.
func NewRelay(clientRequestID string) *Relay {
	return &Relay{
		clientRequestID: clientRequestID,
		synthesize:      true,
		tracker:         NewTracker(),
		result:          Result{ClientRequestID: clientRequestID},
	}
}

// NewPassthroughRelay returns a relay that forwards upstream frames and the
// terminal marker only. The tracker still runs, so Result carries the
// response preview and upstream id.
func NewPassthroughRelay() *Relay {
	return &Relay{tracker: NewTracker()}
}

// Frames returns the output frames as a pull-based sequence. The correlation
// frame comes first unless the relay is a passthrough; upstream is read only
// as the consumer pulls. The
// sequence ends after [DONE], at upstream EOF, or with a single error.
func (r *Relay) Frames(ctx context.Context, src io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if r.synthesize {
			first, err := EncodeJSON(correlationFrame{Type: FrameTypeClientRequestID, ClientRequestID: r.clientRequestID})
			if err != nil {
				yield(nil, fmt.Errorf("stream.Relay.Frames: %w", err))
				return
			}
			log.Info().Str("client_request_id", r.clientRequestID).Msg("stream: emitting client_request_id")
			if !yield(first, nil) {
				return
			}
		}

		dec := NewDecoder(src)
		defer func() {
			r.result.Skipped = dec.Skipped()
			r.fillResult()
		}()

		for {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(nil, fmt.Errorf("stream.Relay.Frames: %w", ctxErr))
				return
			}

			frame, nextErr := dec.Next()
			if errors.Is(nextErr, io.EOF) {
				return
			}
			if nextErr != nil {
				yield(nil, fmt.Errorf("stream.Relay.Frames: %w", nextErr))
				return
			}

			if frame.Done {
				r.result.Terminated = true
				if r.synthesize && r.tracker.CompletedHandoffs() > 0 {
					summary := BuildSummary(r.clientRequestID, r.tracker.State())
					r.result.Summary = &summary

					out, encErr := EncodeJSON(summaryFrame{Type: FrameTypeSummary, TraceSummary: &summary})
					if encErr != nil {
						yield(nil, fmt.Errorf("stream.Relay.Frames: %w", encErr))
						return
					}
					log.Info().
						Str("client_request_id", r.clientRequestID).
						Int("handoffs", summary.TotalHandoffs).
						Msg("stream: emitting trace summary")
					if !yield(out, nil) {
						return
					}
				}
				yield(DoneFrame(), nil)
				return
			}

			r.tracker.Observe(ParseEvent(frame.Payload))
			r.result.Forwarded++
			if !yield(EncodeData(frame.Payload), nil) {
				return
			}
		}
	}
}

// Run drains Frames into sink. A sink error stops the relay.
func (r *Relay) Run(ctx context.Context, src io.Reader, sink Sink) (*Result, error) {
	for frame, err := range r.Frames(ctx, src) {
		if err != nil {
			return nil, err
		}
		if writeErr := sink.WriteFrame(frame); writeErr != nil {
			return nil, fmt.Errorf("stream.Relay.Run: write frame: %w", writeErr)
		}
	}

	res := r.result
	return &res, nil
}

// Tracker exposes the relay's state machine for inspection.
func (r *Relay) Tracker() *Tracker {
	return r.tracker
}

func (r *Relay) fillResult() {
	r.result.Supervisor = r.tracker.Supervisor()
	r.result.Preview = r.tracker.Preview()
	r.result.UpstreamID = r.tracker.UpstreamID()
}

// EncodeData frames payload as a single SSE data event.
func EncodeData(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, "\n\n"...)
}

// EncodeJSON marshals v and frames it as an SSE data event.
func EncodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stream.EncodeJSON: %w", err)
	}
	return EncodeData(b), nil
}

// DoneFrame returns the terminal SSE frame.
func DoneFrame() []byte {
	return EncodeData([]byte(DoneMarker))
}
