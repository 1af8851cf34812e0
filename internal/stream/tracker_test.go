package stream_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/masgate/internal/stream"
)

// observeAll feeds upstream lines through a decoder into a fresh tracker.
func observeAll(t *testing.T, lines ...string) *stream.Tracker {
	t.Helper()

	tr := stream.NewTracker()
	dec := stream.NewDecoder(upstream(lines...))
	for {
		f, err := dec.Next()
		if err != nil || f.Done {
			return tr
		}
		tr.Observe(stream.ParseEvent(f.Payload))
	}
}

// ---------------------------------------------------------------------------
// Event parsing
// ---------------------------------------------------------------------------

func TestParseEvent(t *testing.T) {
	t.Parallel()

	t.Run("message keeps only output_text parts", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`{"type":"response.output_item.done","id":"resp_1","item":{"type":"message","content":[{"type":"output_text","text":"a"},{"type":"refusal","text":"x"},{"type":"output_text","text":"b"}]}}`))
		done, ok := ev.(*stream.ItemDone)
		require.True(t, ok)
		assert.Equal(t, "resp_1", done.UpstreamID())

		msg, ok := done.Item.(*stream.MessageItem)
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, msg.Texts)
	})

	t.Run("function call", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"sales_agent","arguments":"{\"q\":1}"}}`))
		fc, ok := ev.(*stream.ItemDone).Item.(*stream.FunctionCallItem)
		require.True(t, ok)
		assert.Equal(t, "c1", fc.CallID)
		assert.Equal(t, "sales_agent", fc.Name)
		assert.True(t, fc.Arguments.IsString)
		assert.JSONEq(t, `{"q":1}`, fc.Arguments.Text)
	})

	t.Run("missing item fields fall back to empty", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`{"type":"response.output_item.done","item":{"type":"function_call"}}`))
		fc, ok := ev.(*stream.ItemDone).Item.(*stream.FunctionCallItem)
		require.True(t, ok)
		assert.Empty(t, fc.CallID)
		assert.False(t, fc.Arguments.Present)
	})

	t.Run("unknown event type", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`{"type":"response.created","id":"r"}`))
		u, ok := ev.(*stream.Unrecognized)
		require.True(t, ok)
		assert.Equal(t, "response.created", u.EventType())
	})

	t.Run("unknown item type", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`{"type":"response.output_item.done","item":{"type":"reasoning"}}`))
		assert.Equal(t, "reasoning", ev.(*stream.ItemDone).Item.ItemType())
	})

	t.Run("non-object payload", func(t *testing.T) {
		t.Parallel()

		ev := stream.ParseEvent([]byte(`[1,2,3]`))
		assert.Empty(t, ev.EventType())
	})
}

func TestDetectAgent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{text: "<name>supervisor</name>", want: "supervisor", wantOK: true},
		{text: "prefix <name>sales agent</name> suffix", want: "sales agent", wantOK: true},
		{text: "<name>first</name><name>second</name>", want: "first", wantOK: true},
		{text: "<name></name>", wantOK: false},
		{text: "<name>a<b</name>", wantOK: false},
		{text: "plain text", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			got, ok := stream.DetectAgent(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, stream.HasAgentMarker(tt.text))
		})
	}
}

// ---------------------------------------------------------------------------
// Handoff state machine
// ---------------------------------------------------------------------------

func TestTracker_SingleHandoff(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "sales_agent", `{"q":"totals"}`),
		markerLine("sales_agent"),
		messageLine("42 units"),
		markerLine("supervisor"),
	)

	assert.False(t, tr.Active())
	assert.Equal(t, "supervisor", tr.Supervisor())
	require.Equal(t, 1, tr.CompletedHandoffs())

	st := tr.State()
	h := st.Handoffs[0]
	assert.Equal(t, "sales_agent", h.Specialist)
	assert.Equal(t, "c1", h.CallID)
	assert.JSONEq(t, `{"q":"totals"}`, string(h.Request))
	assert.Equal(t, []string{"42 units"}, h.Messages)
	assert.Nil(t, h.Response)
}

func TestTracker_SupervisorIsFirstMarker(t *testing.T) {
	t.Parallel()

	orders := [][]string{
		{"alpha", "beta", "gamma"},
		{"beta", "alpha", "gamma"},
		{"gamma", "gamma", "alpha"},
	}

	for _, names := range orders {
		t.Run(strings.Join(names, ","), func(t *testing.T) {
			t.Parallel()

			lines := make([]string, 0, len(names))
			for _, n := range names {
				lines = append(lines, markerLine(n))
			}
			tr := observeAll(t, lines...)
			assert.Equal(t, names[0], tr.Supervisor())
			assert.Equal(t, names[0], tr.State().Supervisor)
		})
	}
}

func TestTracker_MarkersAreNotCollected(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "analyst", `{}`),
		messageLine("<name>analyst</name>", "part one", "part two"),
		markerLine("supervisor"),
	)

	st := tr.State()
	require.Len(t, st.Handoffs, 1)
	assert.Equal(t, []string{"part one", "part two"}, st.Handoffs[0].Messages)
}

func TestTracker_SupervisorReturnInSameItemClosesFirst(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "analyst", `{}`),
		markerLine("analyst"),
		messageLine("<name>supervisor</name>", "final answer"),
	)

	st := tr.State()
	require.Len(t, st.Handoffs, 1)
	assert.Empty(t, st.Handoffs[0].Messages, "text after the return belongs to the supervisor")
}

func TestTracker_IdleMessagesIgnored(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		messageLine("direct answer"),
	)

	assert.False(t, tr.Active())
	assert.Zero(t, tr.CompletedHandoffs())
}

func TestTracker_AbandonedHandoffDropped(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "first", `{}`),
		messageLine("lost"),
		functionCallLine("c2", "second", `{}`),
		messageLine("kept"),
		markerLine("supervisor"),
	)

	st := tr.State()
	require.Len(t, st.Handoffs, 1)
	assert.Equal(t, "second", st.Handoffs[0].Specialist)
	assert.Equal(t, []string{"kept"}, st.Handoffs[0].Messages)
	assert.Len(t, st.FunctionCalls, 2, "both calls stay in the registry")
}

func TestTracker_NoSupervisorNeverCompletes(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		functionCallLine("c1", "analyst", `{}`),
		messageLine("orphan"),
	)

	assert.True(t, tr.Active())
	assert.Empty(t, tr.Supervisor())
	assert.Zero(t, tr.CompletedHandoffs())
}

func TestTracker_SameAgentMarkerKeepsHandoffOpen(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "analyst", `{}`),
		markerLine("supervisor"),
	)

	// currentAgent was already the supervisor, so this is not a return.
	assert.True(t, tr.Active())
	assert.Zero(t, tr.CompletedHandoffs())
}

func TestTracker_PreviewAndUpstreamID(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		sseLine(`{"type":"response.created","id":"resp_9"}`),
		deltaLine("Hel"),
		deltaLine("lo"),
		sseLine(`{"type":"response.output_text.delta","id":"resp_10","delta":"!"}`),
	)

	assert.Equal(t, "Hello!", tr.Preview())
	assert.Equal(t, "resp_9", tr.UpstreamID())
}

func TestTracker_StateIsACopy(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "analyst", `{"a":1}`),
		messageLine("x"),
		markerLine("supervisor"),
	)

	st := tr.State()
	st.Handoffs[0].Messages[0] = "mutated"
	st.FunctionCalls[0].Name = "mutated"

	again := tr.State()
	assert.Equal(t, "x", again.Handoffs[0].Messages[0])
	assert.Equal(t, "analyst", again.FunctionCalls[0].Name)
}

// ---------------------------------------------------------------------------
// Function call registry
// ---------------------------------------------------------------------------

func TestCallRegistry_Arguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args stream.Value
		want string
	}{
		{name: "missing", args: stream.Value{}, want: `{}`},
		{name: "json string", args: stream.Value{Present: true, IsString: true, Text: `{"q":"totals"}`}, want: `{"q":"totals"}`},
		{name: "inline object", args: stream.Value{Present: true, Raw: []byte(`{"n":2}`)}, want: `{"n":2}`},
		{name: "not json", args: stream.Value{Present: true, IsString: true, Text: "hello"}, want: `{"raw":"hello"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var reg stream.CallRegistry
			fc := reg.Open("c1", "agent", tt.args)
			assert.JSONEq(t, tt.want, string(fc.Arguments))
		})
	}
}

func TestCallRegistry_AttachOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output stream.Value
		want   string
	}{
		{name: "json object string", output: stream.Value{Present: true, IsString: true, Text: `{"total":42}`}, want: `{"total":42}`},
		{name: "json array string", output: stream.Value{Present: true, IsString: true, Text: `[1,2]`}, want: `[1,2]`},
		{name: "plain string", output: stream.Value{Present: true, IsString: true, Text: "done"}, want: `{"message":"done"}`},
		{name: "numeric-looking string", output: stream.Value{Present: true, IsString: true, Text: "42"}, want: `{"message":"42"}`},
		{name: "broken json string", output: stream.Value{Present: true, IsString: true, Text: "{oops"}, want: `{"message":"{oops"}`},
		{name: "inline value", output: stream.Value{Present: true, Raw: []byte(`true`)}, want: `true`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var reg stream.CallRegistry
			reg.Open("c1", "agent", stream.Value{})
			require.True(t, reg.AttachOutput("c1", tt.output))

			fc, ok := reg.Lookup("c1")
			require.True(t, ok)
			assert.JSONEq(t, tt.want, string(fc.Output))
		})
	}

	t.Run("duplicate call id first wins", func(t *testing.T) {
		t.Parallel()

		var reg stream.CallRegistry
		reg.Open("c1", "first", stream.Value{})
		reg.Open("c1", "second", stream.Value{})
		require.True(t, reg.AttachOutput("c1", stream.Value{Present: true, IsString: true, Text: "ok"}))

		calls := reg.Snapshot()
		require.Len(t, calls, 2)
		assert.Equal(t, "first", calls[0].Name)
		assert.JSONEq(t, `{"message":"ok"}`, string(calls[0].Output))
		assert.Nil(t, calls[1].Output)

		b, err := json.Marshal(calls[1])
		require.NoError(t, err)
		assert.NotContains(t, string(b), `"output"`)
	})

	t.Run("unknown call id", func(t *testing.T) {
		t.Parallel()

		var reg stream.CallRegistry
		reg.Open("c1", "agent", stream.Value{})
		assert.False(t, reg.AttachOutput("c2", stream.Value{Present: true, IsString: true, Text: "x"}))
		assert.Equal(t, 1, reg.Len())
	})
}

func TestTracker_OutputDoesNotTouchHandoffResponse(t *testing.T) {
	t.Parallel()

	tr := observeAll(t,
		markerLine("supervisor"),
		functionCallLine("c1", "analyst", `{}`),
		functionCallOutputLine("c1", "Transferred to analyst"),
		markerLine("analyst"),
		markerLine("supervisor"),
	)

	st := tr.State()
	require.Len(t, st.Handoffs, 1)
	assert.Nil(t, st.Handoffs[0].Response)
	assert.JSONEq(t, `{"message":"Transferred to analyst"}`, string(st.FunctionCalls[0].Output))
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

func TestBuildSummary(t *testing.T) {
	t.Parallel()

	t.Run("empty state", func(t *testing.T) {
		t.Parallel()

		s := stream.BuildSummary("trace-1", stream.State{})
		assert.Nil(t, s.Supervisor)
		assert.NotNil(t, s.Handoffs)
		assert.NotNil(t, s.FunctionCalls)
		assert.Equal(t, stream.SummaryStatusCompleted, s.Status)
		assert.Equal(t, stream.DeploymentTypeMAS, s.DeploymentType)
		assert.Zero(t, s.DurationMS)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		tr := observeAll(t,
			markerLine("supervisor"),
			functionCallLine("c1", "analyst", `{"q":1}`),
			messageLine("a"),
			markerLine("supervisor"),
		)
		st := tr.State()

		first := stream.BuildSummary("trace-1", st)
		second := stream.BuildSummary("trace-1", st)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, first.TotalHandoffs)
		assert.Equal(t, 1, first.Handoffs[0].MessageCount)
		require.NotNil(t, first.Supervisor)
		assert.Equal(t, "supervisor", *first.Supervisor)
	})
}
