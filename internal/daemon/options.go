package daemon

import (
	"fmt"
	"time"

	"github.com/leonardotrapani/voskbind/internal/session"
	"github.com/tidwall/gjson"
)

// ParseStartOptions overlays a JSON object such as
//
//	{"grammar":["left","right","[unk]"],"timeout":"5s","continuous":true}
//
// on base. Missing keys keep the base value; a null grammar clears it. A
// numeric timeout is read as milliseconds.
func ParseStartOptions(arg string, base session.Options) (session.Options, error) {
	opts := base
	if arg == "" {
		return opts, nil
	}
	if !gjson.Valid(arg) {
		return opts, fmt.Errorf("invalid options: %s", arg)
	}
	root := gjson.Parse(arg)
	if !root.IsObject() {
		return opts, fmt.Errorf("options must be a JSON object")
	}

	if g := root.Get("grammar"); g.Exists() {
		phrases, err := phrasesOf(g)
		if err != nil {
			return opts, err
		}
		opts.Grammar = phrases
	}

	if t := root.Get("timeout"); t.Exists() {
		switch t.Type {
		case gjson.String:
			d, err := time.ParseDuration(t.Str)
			if err != nil {
				return opts, fmt.Errorf("invalid timeout: %w", err)
			}
			opts.Timeout = d
		case gjson.Number:
			opts.Timeout = time.Duration(t.Int()) * time.Millisecond
		case gjson.Null:
			opts.Timeout = 0
		default:
			return opts, fmt.Errorf("invalid timeout: %s", t.Raw)
		}
		if opts.Timeout < 0 {
			return opts, fmt.Errorf("timeout must not be negative")
		}
	}

	if c := root.Get("continuous"); c.Exists() {
		if c.Type != gjson.True && c.Type != gjson.False {
			return opts, fmt.Errorf("invalid continuous: %s", c.Raw)
		}
		opts.Continuous = c.Bool()
	}
	return opts, nil
}

// ParsePhrases reads a grammar argument: a JSON array of strings, or empty
// or null for no grammar.
func ParsePhrases(arg string) ([]string, error) {
	if arg == "" {
		return nil, nil
	}
	if !gjson.Valid(arg) {
		return nil, fmt.Errorf("invalid grammar: %s", arg)
	}
	return phrasesOf(gjson.Parse(arg))
}

func phrasesOf(v gjson.Result) ([]string, error) {
	if v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("grammar must be an array of strings")
	}
	var phrases []string
	for _, p := range v.Array() {
		if p.Type != gjson.String {
			return nil, fmt.Errorf("grammar entry %s is not a string", p.Raw)
		}
		phrases = append(phrases, p.Str)
	}
	return phrases, nil
}
