package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// FunctionCall correlates a call identifier with its arguments and, once
// seen, its output.
type FunctionCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// CallRegistry is an append-only collection of function calls in arrival
// order. Lookup is linear; a stream carries a handful of handoffs at most.
type CallRegistry struct {
	calls []*FunctionCall
}

// Open records a new function call and returns it.
func (r *CallRegistry) Open(callID, name string, args Value) *FunctionCall {
	fc := &FunctionCall{
		CallID:    callID,
		Name:      name,
		Arguments: parseArguments(args),
	}
	r.calls = append(r.calls, fc)
	return fc
}

// AttachOutput sets the output of the first call with callID. It reports
// false when no such call was opened.
func (r *CallRegistry) AttachOutput(callID string, output Value) bool {
	fc, ok := r.Lookup(callID)
	if !ok {
		log.Warn().Str("call_id", callID).Msg("stream: function call output for unknown call_id")
		return false
	}
	fc.Output = parseOutput(output)
	return true
}

// Lookup returns the first call with callID.
func (r *CallRegistry) Lookup(callID string) (*FunctionCall, bool) {
	for _, fc := range r.calls {
		if fc.CallID == callID {
			return fc, true
		}
	}
	return nil, false
}

// Len returns the number of recorded calls.
func (r *CallRegistry) Len() int {
	return len(r.calls)
}

// Snapshot returns a copy of the registry contents.
func (r *CallRegistry) Snapshot() []FunctionCall {
	out := make([]FunctionCall, 0, len(r.calls))
	for _, fc := range r.calls {
		out = append(out, FunctionCall{
			CallID:    fc.CallID,
			Name:      fc.Name,
			Arguments: bytes.Clone(fc.Arguments),
			Output:    bytes.Clone(fc.Output),
		})
	}
	return out
}

// parseArguments keeps JSON-encoded string arguments as structured JSON and
// wraps anything unparseable as {"raw": original}. Missing arguments mean {}.
func parseArguments(v Value) json.RawMessage {
	switch {
	case !v.Present:
		return json.RawMessage(`{}`)
	case !v.IsString:
		return json.RawMessage(v.Raw)
	case json.Valid([]byte(v.Text)):
		return json.RawMessage(v.Text)
	default:
		return wrap("raw", v.Text)
	}
}

// parseOutput keeps string outputs that look like a JSON object or array as
// structured JSON and wraps every other string as {"message": original}.
func parseOutput(v Value) json.RawMessage {
	if v.Present && !v.IsString {
		return json.RawMessage(v.Raw)
	}

	trimmed := strings.TrimSpace(v.Text)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return json.RawMessage(v.Text)
	}
	return wrap("message", v.Text)
}

func wrap(key, value string) json.RawMessage {
	// Marshalling a map of strings cannot fail.
	b, _ := json.Marshal(map[string]string{key: value})
	return b
}
