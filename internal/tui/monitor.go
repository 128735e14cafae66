package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tidwall/gjson"
)

// maxLines bounds the finished events kept on screen.
const maxLines = 12

// EventMsg carries one watch payload into the monitor.
type EventMsg string

// WatchEndedMsg is sent when the event stream closes.
type WatchEndedMsg struct{ Err error }

// Monitor is a live view of a daemon's events: the current partial
// hypothesis under a spinner and the most recent finished events below.
type Monitor struct {
	spinner spinner.Model
	partial string
	lines   []string
	err     error
}

func NewMonitor() Monitor {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = StyleHighlight
	return Monitor{spinner: s}
}

func (m Monitor) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case EventMsg:
		payload := string(msg)
		if gjson.Get(payload, "kind").Str == "onPartialResult" {
			m.partial = gjson.Get(payload, "text").Str
			return m, nil
		}
		m.partial = ""
		m.lines = append(m.lines, FormatEvent(payload))
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}

	case WatchEndedMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Monitor) View() string {
	var b strings.Builder
	b.WriteString(StyleHeader.Render("voskbind watch"))
	b.WriteString("\n")
	for _, l := range m.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if m.partial != "" {
		b.WriteString(m.spinner.View() + " " + StyleSubtle.Render(m.partial) + "\n")
	}
	if m.err != nil {
		b.WriteString(StyleError.Render("stream ended: "+m.err.Error()) + "\n")
	}
	b.WriteString(StyleMuted.Render("q to quit"))
	return b.String()
}

// Err reports why the stream ended, if it failed.
func (m Monitor) Err() error { return m.err }

// RunMonitor shows the live view until the user quits or watch returns.
// watch must deliver payloads to fn and return when ctx is done.
func RunMonitor(ctx context.Context, watch func(ctx context.Context, fn func(payload string)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewMonitor())
	go func() {
		err := watch(ctx, func(payload string) { p.Send(EventMsg(payload)) })
		p.Send(WatchEndedMsg{Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(Monitor).Err()
}
