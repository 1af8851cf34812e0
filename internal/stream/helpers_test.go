package stream_test

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Upstream line builders
// ---------------------------------------------------------------------------

func sseLine(payload string) string {
	return "data: " + payload + "\n\n"
}

func markerLine(name string) string {
	return messageLine(fmt.Sprintf("<name>%s</name>", name))
}

func messageLine(texts ...string) string {
	parts := make([]map[string]string, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, map[string]string{"type": "output_text", "text": t})
	}
	return itemLine(map[string]any{
		"type":    "message",
		"role":    "assistant",
		"content": parts,
	})
}

func functionCallLine(callID, name, args string) string {
	return itemLine(map[string]any{
		"type":      "function_call",
		"call_id":   callID,
		"name":      name,
		"arguments": args,
	})
}

func functionCallOutputLine(callID, output string) string {
	return itemLine(map[string]any{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  output,
	})
}

func deltaLine(delta string) string {
	b, err := json.Marshal(map[string]string{"type": "response.output_text.delta", "delta": delta})
	if err != nil {
		panic(err)
	}
	return sseLine(string(b))
}

func itemLine(item map[string]any) string {
	b, err := json.Marshal(map[string]any{
		"type": "response.output_item.done",
		"item": item,
	})
	if err != nil {
		panic(err)
	}
	return sseLine(string(b))
}

func doneLine() string {
	return "data: [DONE]\n\n"
}

func upstream(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, ""))
}

// payloadOf strips SSE framing from an output frame.
func payloadOf(frame []byte) string {
	s := strings.TrimPrefix(string(frame), "data: ")
	return strings.TrimSuffix(s, "\n\n")
}
