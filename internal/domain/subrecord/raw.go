package subrecord

import (
	"bytes"
	"encoding/json"
)

// RawInput is the loosely-typed value a caller supplied for one sub-record.
// It is one of Missing, Text, Structured or Invalid.
type RawInput interface {
	rawInput()
}

// Missing means the caller supplied nothing, or an explicit null.
type Missing struct{}

// Text is a string that should contain a serialized sub-record.
type Text string

// Structured is an already-decoded JSON object.
type Structured map[string]any

// Invalid wraps a value of the wrong type, such as a number or an array.
type Invalid struct {
	Value any
}

func (Missing) rawInput()    {}
func (Text) rawInput()       {}
func (Structured) rawInput() {}
func (Invalid) rawInput()    {}

// RawFromValue classifies a value produced by encoding/json or by a caller.
func RawFromValue(v any) RawInput {
	switch t := v.(type) {
	case nil:
		return Missing{}
	case RawInput:
		return t
	case string:
		return Text(t)
	case map[string]any:
		return Structured(t)
	case json.RawMessage:
		return RawFromJSON(t)
	}
	return Invalid{Value: v}
}

// RawFromJSON classifies a raw JSON payload member. Absent or null members
// are Missing. Bytes that are not valid JSON are Text, so they are parsed
// and reported with an offset like any other malformed serialized record.
func RawFromJSON(msg json.RawMessage) RawInput {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Missing{}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Text(trimmed)
	}
	return RawFromValue(v)
}
