package notify

import (
	"fmt"
	"log"
	"strings"

	"github.com/gen2brain/beeep"
)

const appName = "Voskbind"

type MessageType int

const (
	MsgListening MessageType = iota
	MsgStopped
	MsgResult
	MsgTimeout
	MsgModelLoaded
	MsgConfigReloaded
	MsgError
)

type Message struct {
	Title   string
	Body    string
	IsError bool
}

// MessageDef describes a notification and the config key that overrides it.
// A Body containing %s receives the event detail.
type MessageDef struct {
	Type         MessageType
	ConfigKey    string
	DefaultTitle string
	DefaultBody  string
	IsError      bool
}

var MessageDefs = []MessageDef{
	{MsgListening, "listening", appName, "Listening...", false},
	{MsgStopped, "stopped", appName, "Stopped listening", false},
	{MsgResult, "result", appName, "%s", false},
	{MsgTimeout, "timeout", appName, "Listening timed out", false},
	{MsgModelLoaded, "model_loaded", appName, "Model ready: %s", false},
	{MsgConfigReloaded, "config_reloaded", appName, "Configuration reloaded", false},
	{MsgError, "error", appName + " Error", "%s", true},
}

// DefaultMessages returns every message with its default text.
func DefaultMessages() map[MessageType]Message {
	m := make(map[MessageType]Message, len(MessageDefs))
	for _, def := range MessageDefs {
		m[def.Type] = Message{Title: def.DefaultTitle, Body: def.DefaultBody, IsError: def.IsError}
	}
	return m
}

type Notifier interface {
	ListeningChanged(on bool)
	Result(text string)
	Timeout()
	Send(mt MessageType, detail string)
	Error(msg string)
}

// New returns the notifier for typ ("desktop", "log" or "none").
func New(typ string, messages map[MessageType]Message) Notifier {
	if messages == nil {
		messages = DefaultMessages()
	}
	switch typ {
	case "desktop":
		return &Desktop{messages: messages}
	case "log":
		return &Log{messages: messages}
	default:
		return Nop{}
	}
}

func render(messages map[MessageType]Message, mt MessageType, detail string) (Message, bool) {
	msg, ok := messages[mt]
	if !ok {
		return Message{}, false
	}
	if strings.Contains(msg.Body, "%s") {
		msg.Body = fmt.Sprintf(msg.Body, truncate(detail, 100))
	}
	return msg, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type Desktop struct {
	messages map[MessageType]Message
}

func (d *Desktop) ListeningChanged(on bool) {
	if on {
		d.Send(MsgListening, "")
	} else {
		d.Send(MsgStopped, "")
	}
}

func (d *Desktop) Result(text string) {
	if text == "" {
		return
	}
	d.Send(MsgResult, text)
}

func (d *Desktop) Timeout()         { d.Send(MsgTimeout, "") }
func (d *Desktop) Error(msg string) { d.Send(MsgError, msg) }

func (d *Desktop) Send(mt MessageType, detail string) {
	msg, ok := render(d.messages, mt, detail)
	if !ok {
		return
	}
	var err error
	if msg.IsError {
		err = beeep.Alert(msg.Title, msg.Body, "")
	} else {
		err = beeep.Notify(msg.Title, msg.Body, "")
	}
	if err != nil {
		log.Printf("Failed to send notification: %v", err)
	}
}

// Log writes notifications to the standard logger.
type Log struct {
	messages map[MessageType]Message
}

func (l *Log) ListeningChanged(on bool) {
	if on {
		l.Send(MsgListening, "")
	} else {
		l.Send(MsgStopped, "")
	}
}

func (l *Log) Result(text string) {
	if text == "" {
		return
	}
	l.Send(MsgResult, text)
}

func (l *Log) Timeout()         { l.Send(MsgTimeout, "") }
func (l *Log) Error(msg string) { l.Send(MsgError, msg) }

func (l *Log) Send(mt MessageType, detail string) {
	msg, ok := render(l.messages, mt, detail)
	if !ok {
		return
	}
	log.Printf("Notification: %s: %s", msg.Title, msg.Body)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) ListeningChanged(on bool)           {}
func (Nop) Result(text string)                 {}
func (Nop) Timeout()                           {}
func (Nop) Send(mt MessageType, detail string) {}
func (Nop) Error(msg string)                   {}
