// Package grammar encodes phrase lists into the grammar string understood by
// the recognition engine.
//
// The engine expects a JSON array of quoted phrases separated by ", ", for
// example ["left", "right", "[unk]"]. An empty grammar is "[]" and means
// unconstrained recognition.
package grammar

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unknown is the catch-all token matching anything outside the phrase list.
const Unknown = "[unk]"

// Unconstrained is the encoded form of an empty grammar.
const Unconstrained = "[]"

// Encode serializes phrases in order. A nil or empty slice yields "[]".
func Encode(phrases []string) string {
	if len(phrases) == 0 {
		return Unconstrained
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, p := range phrases {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(p))
	}
	b.WriteByte(']')
	return b.String()
}

// Decode parses an encoded grammar back into its ordered phrase list.
func Decode(encoded string) ([]string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" || encoded == Unconstrained {
		return nil, nil
	}

	var phrases []string
	if err := json.Unmarshal([]byte(encoded), &phrases); err != nil {
		return nil, fmt.Errorf("invalid grammar %q: %w", encoded, err)
	}
	if len(phrases) == 0 {
		return nil, nil
	}
	return phrases, nil
}

// IsUnconstrained reports whether an encoded grammar places no restriction on
// the recognizer.
func IsUnconstrained(encoded string) bool {
	encoded = strings.TrimSpace(encoded)
	return encoded == "" || encoded == Unconstrained
}

// quote produces a JSON string literal without HTML escaping so phrases such
// as "<noise>" reach the engine untouched.
func quote(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(b.String(), "\n")
}
