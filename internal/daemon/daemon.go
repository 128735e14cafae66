// Package daemon hosts a recognition session behind the control socket and
// turns its events into notifications and watch streams.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/leonardotrapani/voskbind/internal/bus"
	"github.com/leonardotrapani/voskbind/internal/config"
	"github.com/leonardotrapani/voskbind/internal/events"
	"github.com/leonardotrapani/voskbind/internal/injection"
	"github.com/leonardotrapani/voskbind/internal/notify"
	"github.com/leonardotrapani/voskbind/internal/session"
	"golang.org/x/sync/errgroup"
)

// watchBuffer is how many event lines may queue for one watch client before
// further lines are dropped.
const watchBuffer = 64

type Daemon struct {
	config  *config.Manager
	session *session.Session

	mu       sync.RWMutex
	notifier notify.Notifier
	injector *injection.Injector

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Manager, s *session.Session, n notify.Notifier) *Daemon {
	if n == nil {
		n = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:   cfg,
		session:  s,
		notifier: n,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Daemon) notify() notify.Notifier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notifier
}

// SetInjector makes the daemon type every non-empty result into the focused
// window. nil turns output off.
func (d *Daemon) SetInjector(inj *injection.Injector) {
	d.mu.Lock()
	d.injector = inj
	d.mu.Unlock()
}

func (d *Daemon) output(text string) {
	d.mu.RLock()
	inj := d.injector
	d.mu.RUnlock()
	if inj == nil || text == "" {
		return
	}

	// handlers run on the event dispatcher, keep slow tools off it
	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
		defer cancel()
		used, err := inj.Inject(ctx, text)
		if err != nil {
			log.Printf("Daemon: output failed: %v", err)
			d.notify().Error(fmt.Sprintf("output failed: %v", err))
			return
		}
		log.Printf("Daemon: typed result via %s", used)
	}()
}

// Run serves the control socket until a quit command or SIGTERM/SIGINT.
// The session is stopped, not closed, on the way out.
func (d *Daemon) Run() error {
	if err := bus.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := bus.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := bus.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer bus.RemovePidFile()

	ctx, stop := signal.NotifyContext(d.ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	subs := d.subscribe()
	defer func() {
		for _, s := range subs {
			s.Remove()
		}
	}()

	d.config.OnChange(d.configChanged)
	if err := d.config.StartWatching(ctx); err != nil {
		log.Printf("Daemon: config hot-reload disabled: %v", err)
	}
	defer d.config.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error { return d.accept(gctx, ln) })
	if d.config.GetConfig().Model.Autoload {
		g.Go(func() error {
			d.autoload(gctx)
			return nil
		})
	}

	log.Printf("Daemon: started, listening on socket")
	err = g.Wait()
	d.session.Stop()
	log.Printf("Daemon: stopped")
	return err
}

func (d *Daemon) accept(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Daemon: shutdown requested")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(ctx, c)
	}
}

func (d *Daemon) autoload(ctx context.Context) {
	path := d.config.GetConfig().ResolveModelPath()
	if err := d.session.LoadModel(ctx, path); err != nil {
		log.Printf("Daemon: autoload of %s failed: %v", path, err)
		d.notify().Error(err.Error())
		return
	}
	d.notify().Send(notify.MsgModelLoaded, filepath.Base(d.session.ModelPath()))
}

func (d *Daemon) subscribe() []*events.Subscription {
	return []*events.Subscription{
		d.session.OnResult(func(text string) {
			if text != "" {
				d.notify().Result(text)
				d.output(text)
			}
		}),
		d.session.OnFinalResult(func(text string) {
			d.notify().Result(text)
			d.output(text)
		}),
		d.session.OnTimeout(func() { d.notify().Timeout() }),
		d.session.OnError(func(msg string) { d.notify().Error(msg) }),
	}
}

func (d *Daemon) configChanged(old, cfg *config.Config) {
	n := cfg.ToNotifier()
	d.mu.Lock()
	d.notifier = n
	d.mu.Unlock()

	if inj, err := cfg.ToInjector(); err != nil {
		log.Printf("Daemon: output config rejected, keeping previous: %v", err)
	} else {
		d.SetInjector(inj)
	}

	if !slices.Equal(old.Recognition.Grammar, cfg.Recognition.Grammar) {
		err := d.session.SetGrammar(d.ctx, slices.Clone(cfg.Recognition.Grammar))
		if err != nil && !errors.Is(err, session.ErrModelNotLoaded) {
			log.Printf("Daemon: applying reloaded grammar failed: %v", err)
		}
	}
	n.Send(notify.MsgConfigReloaded, "")
}

func (d *Daemon) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		log.Printf("Daemon: client read error: %v", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "load":
		d.load(c, arg)
	case "start":
		d.start(c, arg)
	case "stop":
		wasListening := d.session.State() == session.Listening
		d.session.Stop()
		if wasListening {
			go d.notify().ListeningChanged(false)
		}
		fmt.Fprint(c, "OK stopped\n")
	case "unload":
		d.session.Unload()
		fmt.Fprint(c, "OK unloaded\n")
	case "grammar":
		phrases, err := ParsePhrases(arg)
		if err != nil {
			fmt.Fprintf(c, "ERR grammar: %v\n", err)
			return
		}
		if err := d.session.SetGrammar(d.ctx, phrases); err != nil {
			fmt.Fprintf(c, "ERR grammar: %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK grammar phrases=%d\n", len(phrases))
	case "mute", "unmute":
		if err := d.session.SetMuted(cmd == "mute"); err != nil {
			fmt.Fprintf(c, "ERR %s: %v\n", cmd, err)
			return
		}
		fmt.Fprintf(c, "OK muted=%t\n", cmd == "mute")
	case "status":
		fmt.Fprintf(c, "STATUS %s\n", formatStatus(d.session.Status()))
	case "version":
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)
	case "watch":
		d.watch(ctx, c, r)
	case "quit":
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		log.Printf("Daemon: unknown command: %q", cmd)
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

func (d *Daemon) load(c net.Conn, path string) {
	if path == "" {
		path = d.config.GetConfig().ResolveModelPath()
	}
	if err := d.session.LoadModel(d.ctx, path); err != nil {
		fmt.Fprintf(c, "ERR load: %v\n", err)
		return
	}
	loaded := d.session.ModelPath()
	go d.notify().Send(notify.MsgModelLoaded, filepath.Base(loaded))
	fmt.Fprintf(c, "OK loaded model=%q\n", loaded)
}

func (d *Daemon) start(c net.Conn, arg string) {
	opts, err := ParseStartOptions(arg, d.config.GetConfig().ToStartOptions())
	if err != nil {
		fmt.Fprintf(c, "ERR start: %v\n", err)
		return
	}
	id, err := d.session.Listen(d.ctx, opts)
	if err != nil {
		fmt.Fprintf(c, "ERR start: %v\n", err)
		return
	}
	go d.notify().ListeningChanged(true)
	fmt.Fprintf(c, "OK listening id=%s\n", id)
}

// watch streams every session event to c until the client hangs up or the
// daemon shuts down.
func (d *Daemon) watch(ctx context.Context, c net.Conn, r io.Reader) {
	lines := make(chan string, watchBuffer)
	var subs []*events.Subscription
	for _, kind := range events.Kinds {
		subs = append(subs, d.session.Subscribe(kind, func(ev events.Event) {
			select {
			case lines <- bus.EventPrefix + formatEvent(ev) + "\n":
			default:
				log.Printf("Daemon: watch client too slow, dropping %s", ev.Kind)
			}
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Remove()
		}
	}()

	if _, err := fmt.Fprint(c, "OK watching\n"); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, r)
		close(gone)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case line := <-lines:
			if _, err := io.WriteString(c, line); err != nil {
				return
			}
		}
	}
}

type wireEvent struct {
	Kind    events.Kind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Session string      `json:"session,omitempty"`
	Time    time.Time   `json:"time"`
}

func formatEvent(ev events.Event) string {
	b, _ := json.Marshal(wireEvent{
		Kind:    ev.Kind,
		Text:    ev.Text,
		Session: ev.SessionID,
		Time:    ev.Time,
	})
	return string(b)
}

func formatStatus(st session.Status) string {
	s := fmt.Sprintf("state=%s model=%q id=%s muted=%t grammar=%d",
		st.State, st.ModelPath, st.SessionID, st.Muted, len(st.Grammar))
	if st.Remaining > 0 {
		s += fmt.Sprintf(" remaining=%s", st.Remaining.Round(time.Millisecond))
	}
	return s
}
