package stream

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// Handoff is one supervisor -> specialist -> supervisor round trip.
type Handoff struct {
	Specialist string
	CallID     string
	Request    json.RawMessage
	// Response is never populated: function call outputs update only the
	// call registry.
	Response json.RawMessage
	Messages []string
}

// State is a copy of everything the tracker has accumulated.
type State struct {
	Supervisor    string
	CurrentAgent  string
	Active        bool
	Handoffs      []Handoff
	FunctionCalls []FunctionCall
}

// Tracker is the handoff state machine for one stream. It is Idle until a
// function call opens a handoff, and Active until the supervisor speaks
// again. A Tracker must not be shared between streams.
type Tracker struct {
	supervisor   string
	currentAgent string
	active       *Handoff
	completed    []Handoff
	calls        CallRegistry
	preview      strings.Builder
	upstreamID   string
}

// NewTracker returns an Idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe applies one decoded event. It never fails.
func (t *Tracker) Observe(ev Event) {
	if t.upstreamID == "" && ev.UpstreamID() != "" {
		t.upstreamID = ev.UpstreamID()
	}

	switch e := ev.(type) {
	case *ItemDone:
		t.observeItem(e.Item)
	case *TextDelta:
		t.preview.WriteString(e.Delta)
	}
}

func (t *Tracker) observeItem(item Item) {
	switch it := item.(type) {
	case *MessageItem:
		// Markers are applied before collection so a return to the
		// supervisor closes the handoff before this item's text is seen.
		for _, text := range it.Texts {
			if name, ok := DetectAgent(text); ok {
				t.switchAgent(name)
			}
		}
		if t.active != nil {
			for _, text := range it.Texts {
				if HasAgentMarker(text) {
					continue
				}
				t.active.Messages = append(t.active.Messages, text)
				log.Debug().Str("specialist", t.active.Specialist).Int("chars", len(text)).Msg("stream: specialist message collected")
			}
		}
	case *FunctionCallItem:
		t.openHandoff(it)
	case *FunctionCallOutputItem:
		if t.calls.AttachOutput(it.CallID, it.Output) {
			log.Info().Str("call_id", it.CallID).Msg("stream: handoff confirmation received")
		}
	}
}

func (t *Tracker) switchAgent(name string) {
	log.Info().Str("from", t.currentAgent).Str("to", name).Msg("stream: agent switch detected")

	if t.supervisor == "" {
		t.supervisor = name
		log.Info().Str("supervisor", name).Msg("stream: supervisor identified")
	}

	if t.currentAgent != "" && t.currentAgent != name && name == t.supervisor && t.active != nil {
		t.completed = append(t.completed, *t.active)
		log.Info().Str("specialist", t.active.Specialist).Str("call_id", t.active.CallID).Msg("stream: handoff complete")
		t.active = nil
	}

	t.currentAgent = name
}

func (t *Tracker) openHandoff(it *FunctionCallItem) {
	fc := t.calls.Open(it.CallID, it.Name, it.Arguments)

	if t.active != nil {
		log.Warn().
			Str("specialist", t.active.Specialist).
			Str("call_id", t.active.CallID).
			Msg("stream: discarding handoff that never returned to the supervisor")
	}

	t.active = &Handoff{
		Specialist: it.Name,
		CallID:     it.CallID,
		Request:    bytes.Clone(fc.Arguments),
		Messages:   []string{},
	}
	log.Info().Str("specialist", it.Name).Str("call_id", it.CallID).Msg("stream: handoff initiated")
}

// Active reports whether a handoff is currently open.
func (t *Tracker) Active() bool {
	return t.active != nil
}

// Supervisor returns the first agent name observed, or "".
func (t *Tracker) Supervisor() string {
	return t.supervisor
}

// CompletedHandoffs returns the number of finalized handoffs.
func (t *Tracker) CompletedHandoffs() int {
	return len(t.completed)
}

// Preview returns the concatenated text deltas seen so far.
func (t *Tracker) Preview() string {
	return t.preview.String()
}

// UpstreamID returns the first top-level event id seen, or "".
func (t *Tracker) UpstreamID() string {
	return t.upstreamID
}

// State returns a copy of the accumulated state.
func (t *Tracker) State() State {
	handoffs := make([]Handoff, 0, len(t.completed))
	for _, h := range t.completed {
		handoffs = append(handoffs, Handoff{
			Specialist: h.Specialist,
			CallID:     h.CallID,
			Request:    bytes.Clone(h.Request),
			Response:   bytes.Clone(h.Response),
			Messages:   slices.Clone(h.Messages),
		})
	}

	return State{
		Supervisor:    t.supervisor,
		CurrentAgent:  t.currentAgent,
		Active:        t.active != nil,
		Handoffs:      handoffs,
		FunctionCalls: t.calls.Snapshot(),
	}
}
