package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leonardotrapani/voskbind/internal/deps"
	"github.com/tidwall/gjson"
)

// FormatEvent renders one watch payload, e.g.
// {"kind":"onResult","text":"left","session":"…","time":"…"}.
func FormatEvent(payload string) string {
	ev := gjson.Parse(payload)
	kind := ev.Get("kind").Str
	text := ev.Get("text").Str

	stamp := ""
	if t, err := time.Parse(time.RFC3339Nano, ev.Get("time").Str); err == nil {
		stamp = StyleMuted.Render(t.Local().Format("15:04:05.000")) + " "
	}

	switch kind {
	case "onPartialResult":
		return stamp + StyleSubtle.Render("… "+text)
	case "onResult":
		return stamp + StyleSuccess.Render("✓ ") + StyleLabel.Render(text)
	case "onFinalResult":
		return stamp + StyleHighlight.Render("■ ") + StyleLabel.Render(text)
	case "onTimeout":
		return stamp + StyleWarning.Render("timeout")
	case "onError":
		return stamp + StyleError.Render("error: ") + text
	default:
		return stamp + StyleMuted.Render(payload)
	}
}

// ParseReply splits a daemon reply such as
// `STATUS state=ready model="/m" id= muted=false` into its verb and fields.
// Quoted values are unquoted and bare words are joined under the empty key.
func ParseReply(reply string) (string, map[string]string) {
	reply = strings.TrimSpace(reply)
	verb, rest, _ := strings.Cut(reply, " ")
	fields := make(map[string]string)

	var words []string
	for rest = strings.TrimLeft(rest, " "); rest != ""; rest = strings.TrimLeft(rest, " ") {
		tok, _, _ := strings.Cut(rest, " ")
		key, after, ok := strings.Cut(rest, "=")
		if !ok || len(key) > len(tok) {
			words = append(words, tok)
			rest = rest[len(tok):]
			continue
		}
		var value string
		if strings.HasPrefix(after, `"`) {
			quoted, err := strconv.QuotedPrefix(after)
			if err != nil {
				fields[key] = after
				break
			}
			value, _ = strconv.Unquote(quoted)
			rest = after[len(quoted):]
		} else {
			value, rest, _ = strings.Cut(after, " ")
		}
		fields[key] = value
	}
	if len(words) > 0 {
		fields[""] = strings.Join(words, " ")
	}
	return verb, fields
}

// FormatStatus renders a STATUS reply as labelled lines.
func FormatStatus(reply string) string {
	verb, f := ParseReply(reply)
	if verb != "STATUS" {
		return StyleError.Render(strings.TrimSpace(reply))
	}
	if proto, ok := f["proto"]; ok {
		return fmt.Sprintf("%s %s", StyleLabel.Render("Protocol:"), proto)
	}

	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", StyleLabel.Render(fmt.Sprintf("%-10s", label+":")), value)
	}
	line("State", StateStyle(f["state"]).Render(f["state"]))
	model := f["model"]
	if model == "" {
		model = StyleMuted.Render("none")
	}
	line("Model", model)
	if id := f["id"]; id != "" {
		line("Session", id)
	}
	if g := f["grammar"]; g != "" && g != "0" {
		line("Grammar", g+" phrases")
	}
	if f["muted"] == "true" {
		line("Muted", StyleWarning.Render("yes"))
	}
	if r := f["remaining"]; r != "" {
		line("Remaining", r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDep renders one dependency check for `voskbind doctor`.
func FormatDep(name string, s deps.Status, hint string) string {
	if !s.Installed {
		out := StyleError.Render("✗ ") + StyleLabel.Render(name) + " " + StyleMuted.Render("not found")
		if hint != "" {
			out += "\n    " + StyleSubtle.Render(hint)
		}
		return out
	}
	out := StyleSuccess.Render("✓ ") + StyleLabel.Render(name) + " " + StyleMuted.Render(s.Path)
	if s.Version != "" {
		out += " " + StyleMuted.Render("("+s.Version+")")
	}
	return out
}
