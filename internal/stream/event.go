package stream

import (
	"github.com/buger/jsonparser"
)

// Upstream event discriminators.
const (
	EventOutputItemDone  = "response.output_item.done"
	EventOutputTextDelta = "response.output_text.delta"
)

// Item discriminators carried by EventOutputItemDone.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

const contentOutputText = "output_text"

// Event is one decoded upstream payload. Concrete types are *ItemDone,
// *TextDelta and *Unrecognized.
type Event interface {
	// EventType returns the upstream "type" discriminator ("" when absent).
	EventType() string
	// UpstreamID returns the top-level "id" field ("" when absent).
	UpstreamID() string
}

// ItemDone is a completed output item.
type ItemDone struct {
	ID   string
	Item Item
}

func (e *ItemDone) EventType() string  { return EventOutputItemDone }
func (e *ItemDone) UpstreamID() string { return e.ID }

// TextDelta is an incremental chunk of assistant text.
type TextDelta struct {
	ID    string
	Delta string
}

func (e *TextDelta) EventType() string  { return EventOutputTextDelta }
func (e *TextDelta) UpstreamID() string { return e.ID }

// Unrecognized is any payload whose type triggers no state transition.
// It is still forwarded verbatim.
type Unrecognized struct {
	ID   string
	Type string
}

func (e *Unrecognized) EventType() string  { return e.Type }
func (e *Unrecognized) UpstreamID() string { return e.ID }

// Item is the payload of an ItemDone event. Concrete types are *MessageItem,
// *FunctionCallItem, *FunctionCallOutputItem and *UnknownItem.
type Item interface {
	ItemType() string
}

// MessageItem holds the output_text fragments of a message, in order.
type MessageItem struct {
	Texts []string
}

func (i *MessageItem) ItemType() string { return ItemMessage }

// FunctionCallItem opens a handoff to a specialist.
type FunctionCallItem struct {
	CallID    string
	Name      string
	Arguments Value
}

func (i *FunctionCallItem) ItemType() string { return ItemFunctionCall }

// FunctionCallOutputItem carries the result of an earlier function call.
type FunctionCallOutputItem struct {
	CallID string
	Output Value
}

func (i *FunctionCallOutputItem) ItemType() string { return ItemFunctionCallOutput }

// UnknownItem is an item type with no tracking semantics.
type UnknownItem struct {
	Type string
}

func (i *UnknownItem) ItemType() string { return i.Type }

// Value is a JSON field that upstream sends either as a JSON-encoded string
// or inline as any other JSON value.
type Value struct {
	// Present is false when the field is missing.
	Present bool
	// IsString reports whether the field was a JSON string; Text holds it unescaped.
	IsString bool
	Text     string
	// Raw holds the field's JSON text when it was not a string.
	Raw []byte
}

// ParseEvent classifies a decoded payload. It never fails: missing or
// mistyped fields fall back to neutral values so one odd item cannot stop
// trace reconstruction for the rest of the stream.
func ParseEvent(payload []byte) Event {
	typ := getString(payload, "type")
	id := getString(payload, "id")

	switch typ {
	case EventOutputItemDone:
		item, _, _, err := jsonparser.Get(payload, "item")
		if err != nil {
			item = nil
		}
		return &ItemDone{ID: id, Item: parseItem(item)}
	case EventOutputTextDelta:
		return &TextDelta{ID: id, Delta: getString(payload, "delta")}
	default:
		return &Unrecognized{ID: id, Type: typ}
	}
}

func parseItem(item []byte) Item {
	typ := getString(item, "type")

	switch typ {
	case ItemMessage:
		return &MessageItem{Texts: outputTexts(item)}
	case ItemFunctionCall:
		return &FunctionCallItem{
			CallID:    getString(item, "call_id"),
			Name:      getString(item, "name"),
			Arguments: getValue(item, "arguments"),
		}
	case ItemFunctionCallOutput:
		return &FunctionCallOutputItem{
			CallID: getString(item, "call_id"),
			Output: getValue(item, "output"),
		}
	default:
		return &UnknownItem{Type: typ}
	}
}

func outputTexts(item []byte) []string {
	var texts []string
	_, _ = jsonparser.ArrayEach(item, func(part []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil || dataType != jsonparser.Object {
			return
		}
		if getString(part, "type") != contentOutputText {
			return
		}
		texts = append(texts, getString(part, "text"))
	}, "content")
	return texts
}

func getString(data []byte, key string) string {
	if len(data) == 0 {
		return ""
	}
	s, err := jsonparser.GetString(data, key)
	if err != nil {
		return ""
	}
	return s
}

func getValue(data []byte, key string) Value {
	if len(data) == 0 {
		return Value{}
	}
	raw, dataType, _, err := jsonparser.Get(data, key)
	if err != nil || dataType == jsonparser.NotExist {
		return Value{}
	}
	if dataType == jsonparser.String {
		text, parseErr := jsonparser.ParseString(raw)
		if parseErr != nil {
			return Value{Present: true, IsString: true, Text: string(raw)}
		}
		return Value{Present: true, IsString: true, Text: text}
	}
	return Value{Present: true, Raw: append([]byte(nil), raw...)}
}
