// Package hypothesis decodes recognizer output payloads.
package hypothesis

import "github.com/tidwall/gjson"

type Kind int

const (
	Partial Kind = iota
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Payload keys used by the engine.
const (
	KeyText    = "text"
	KeyPartial = "partial"
)

// Hypothesis is one recognition output. Text may be empty.
type Hypothesis struct {
	Kind Kind
	Text string
}

// Key returns the payload key holding the text for this kind of hypothesis.
func (k Kind) Key() string {
	if k == Final {
		return KeyText
	}
	return KeyPartial
}

// Parse extracts the text of a payload. Malformed payloads, a missing key or a
// non-string value all produce a hypothesis with empty text.
func Parse(kind Kind, payload string) Hypothesis {
	return Hypothesis{Kind: kind, Text: Text(payload, kind.Key())}
}

// Text returns the string stored under key, or "" when it cannot be read.
func Text(payload, key string) string {
	if payload == "" || !gjson.Valid(payload) {
		return ""
	}
	res := gjson.Get(payload, key)
	if res.Type != gjson.String {
		return ""
	}
	return res.String()
}
