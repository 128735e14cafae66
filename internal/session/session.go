// Package session drives one recognition model through load, listen, stop
// and unload, feeding captured audio into the engine on a background
// goroutine and publishing hypotheses as events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leonardotrapani/voskbind/internal/engine"
	"github.com/leonardotrapani/voskbind/internal/events"
	"github.com/leonardotrapani/voskbind/internal/grammar"
	"github.com/leonardotrapani/voskbind/internal/models"
	"github.com/leonardotrapani/voskbind/internal/recording"
)

type Option func(*Session)

// WithUnpacker lets LoadModel fall back to unpacking a bundled asset when
// the path cannot be opened directly.
func WithUnpacker(u *models.Unpacker) Option {
	return func(s *Session) { s.unpacker = u }
}

// WithEventBuffer sizes the event queue up front. The queue grows past it
// rather than block the decode goroutine.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.eventBuffer = n }
}

// WithLogLevel sets the engine's native log verbosity.
func WithLogLevel(level int) Option {
	return func(s *Session) { s.engine.SetLogLevel(level) }
}

type Session struct {
	engine      engine.Engine
	source      recording.Source
	unpacker    *models.Unpacker
	eventBuffer int
	events      *events.Emitter

	mu        sync.Mutex
	state     State
	closed    bool
	model     engine.Model
	modelPath string
	active    *phase
	starting  chan struct{} // closed when an in-flight start commits or fails
}

type stopReason int

const (
	reasonStop stopReason = iota
	reasonTimeout
	reasonUtterance
	reasonRestart
)

// phase is one Listening period. rec and pending belong to the decode
// goroutine until done is closed.
type phase struct {
	id       string
	opts     Options
	rec      engine.Recognizer
	rate     int
	frames   <-chan recording.AudioFrame
	errs     <-chan error
	cancel   context.CancelFunc
	timer    *time.Timer
	deadline time.Time
	pending  string

	// outcome, readable once stopped is closed
	result    string
	hasResult bool
	final     string
	timedOut  bool
	faults    chan error

	done    chan struct{} // decode goroutine exited
	stopped chan struct{} // teardown finished
}

func New(eng engine.Engine, src recording.Source, opts ...Option) *Session {
	s := &Session{
		engine: eng,
		source: src,
		state:  Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = events.New(s.eventBuffer)
	return s
}

// LoadModel opens the model at path, replacing any model already held.
// A "file://" prefix is accepted. It returns once the model is usable.
func (s *Session) LoadModel(ctx context.Context, path string) error {
	path = strings.TrimPrefix(path, "file://")

	s.settle()
	if s.closed {
		s.mu.Unlock()
		return &ModelLoadError{Path: path, Err: ErrClosed}
	}
	if s.state == Loading {
		s.mu.Unlock()
		return &ModelLoadError{Path: path, Err: ErrLoadInProgress}
	}
	old := s.model
	s.model = nil
	s.modelPath = ""
	s.state = Loading
	s.mu.Unlock()

	if old != nil {
		log.Printf("Session: releasing previous model")
		old.Close()
	}

	log.Printf("Session: loading model %s", path)
	m, resolved, err := s.openModel(ctx, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && s.closed {
		m.Close()
		err = ErrClosed
	}
	if err != nil {
		s.state = Idle
		log.Printf("Session: model load failed: %v", err)
		return &ModelLoadError{Path: path, Err: err}
	}

	s.model = m
	s.modelPath = resolved
	s.state = Ready
	log.Printf("Session: model ready (%s)", resolved)
	return nil
}

func (s *Session) openModel(ctx context.Context, path string) (engine.Model, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	m, err := s.engine.LoadModel(path)
	if err == nil {
		return m, path, nil
	}
	if s.unpacker == nil {
		return nil, "", err
	}

	log.Printf("Session: %v, trying bundled asset", err)
	dir, uerr := s.unpacker.Unpack(ctx, path)
	if uerr != nil {
		return nil, "", fmt.Errorf("%w (unpack: %v)", err, uerr)
	}
	m, err = s.engine.LoadModel(dir)
	if err != nil {
		return nil, "", err
	}
	return m, dir, nil
}

// Start begins a listening phase.
func (s *Session) Start(ctx context.Context, opts Options) error {
	_, err := s.start(ctx, opts)
	return err
}

// Listen is Start that also returns the id of the phase it began. The id
// stays valid in events even if the phase has already ended.
func (s *Session) Listen(ctx context.Context, opts Options) (string, error) {
	p, err := s.start(ctx, opts)
	if err != nil {
		return "", err
	}
	return p.id, nil
}

// start claims the session under s.mu, then talks to capture and the engine
// without it so State and Status stay responsive. LoadModel, Unload and Close
// wait on s.starting before touching the model.
func (s *Session) start(ctx context.Context, opts Options) (*phase, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.state == Idle, s.state == Loading:
		s.mu.Unlock()
		return nil, ErrModelNotLoaded
	case s.state == Listening, s.state == Stopping, s.starting != nil:
		s.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	model := s.model
	starting := make(chan struct{})
	s.starting = starting
	s.mu.Unlock()

	p, err := s.open(ctx, model, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = nil
	close(starting)
	if err != nil {
		return nil, err
	}
	if s.closed {
		s.discard(p)
		return nil, ErrClosed
	}

	if opts.Timeout > 0 {
		p.deadline = time.Now().Add(opts.Timeout)
		p.timer = time.AfterFunc(opts.Timeout, func() {
			s.teardown(p, reasonTimeout)
		})
	}
	s.active = p
	s.state = Listening
	go s.decode(p, p.frames, p.errs)

	log.Printf("Session: listening (id=%s, rate=%d, grammar=%d phrases, timeout=%v, continuous=%v)",
		p.id, p.rate, len(p.opts.Grammar), p.opts.Timeout, p.opts.Continuous)
	return p, nil
}

// discard undoes a phase that was opened but never went live.
func (s *Session) discard(p *phase) {
	if err := s.source.Stop(); err != nil {
		log.Printf("Session: error stopping capture: %v", err)
	}
	p.cancel()
	p.rec.Close()
}

// open prepares capture and a recognizer for a new phase.
func (s *Session) open(ctx context.Context, model engine.Model, opts Options) (*phase, error) {
	if a, ok := s.source.(recording.Authorizer); ok {
		if err := a.Authorize(ctx); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				return nil, err
			}
			return nil, &StartError{Err: fmt.Errorf("authorize capture: %w", err)}
		}
	}

	format, err := s.source.Format(ctx)
	if err != nil {
		return nil, &StartError{Err: fmt.Errorf("capture format: %w", err)}
	}

	opts.Grammar = slices.Clone(opts.Grammar)
	rec, err := model.NewRecognizer(float64(format.SampleRate), grammar.Encode(opts.Grammar))
	if err != nil {
		return nil, &StartError{Err: fmt.Errorf("create recognizer: %w", err)}
	}

	// capture outlives the caller's ctx; only teardown ends it
	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, errs, err := s.source.Start(captureCtx, format.BufferSize())
	if err != nil {
		cancel()
		rec.Close()
		return nil, &StartError{Err: fmt.Errorf("start capture: %w", err)}
	}

	return &phase{
		id:      uuid.NewString(),
		opts:    opts,
		rec:     rec,
		rate:    format.SampleRate,
		frames:  frames,
		errs:    errs,
		cancel:  cancel,
		faults:  make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Stop ends the active phase and emits onFinalResult when a hypothesis is
// pending. It is a no-op when nothing is listening and returns after the
// session is back to Ready.
func (s *Session) Stop() {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return
	}
	s.teardown(p, reasonStop)
	<-p.stopped
}

// Wait blocks until the active phase ends or ctx is done. It returns at once
// when nothing is listening.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unload stops listening and releases the model. It does nothing while a
// load is in progress.
func (s *Session) Unload() {
	s.settle()
	if s.state == Loading {
		s.mu.Unlock()
		return
	}
	m := s.model
	s.model = nil
	s.modelPath = ""
	s.state = Idle
	s.mu.Unlock()

	if m != nil {
		m.Close()
		log.Printf("Session: model unloaded")
	}
}

// SetGrammar swaps the grammar of the active phase by restarting the
// recognizer. No events are emitted for the restart and the remaining
// timeout carries over.
func (s *Session) SetGrammar(ctx context.Context, phrases []string) error {
	s.mu.Lock()
	for s.starting != nil {
		// let an in-flight start go live so the new grammar lands on it
		starting := s.starting
		s.mu.Unlock()
		<-starting
		s.mu.Lock()
	}
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case Idle, Loading:
		s.mu.Unlock()
		return ErrModelNotLoaded
	case Ready, Stopping:
		s.mu.Unlock()
		return nil
	}

	p := s.active
	opts := p.opts
	opts.Grammar = phrases
	if opts.Timeout > 0 {
		opts.Timeout = time.Until(p.deadline)
		if opts.Timeout <= 0 {
			// the timer is about to fire; let it
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	if !s.teardown(p, reasonRestart) {
		return nil
	}
	log.Printf("Session: restarting with new grammar")
	return s.Start(ctx, opts)
}

// SetMuted silences capture without ending the phase.
func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	m, ok := s.source.(recording.Muter)
	if !ok {
		return ErrMuteUnsupported
	}
	m.SetMuted(muted)
	log.Printf("Session: muted=%v", muted)
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ModelPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelPath
}

// SessionID identifies the active listening phase, or "" when not listening.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state,
		ModelPath: s.modelPath,
	}
	if m, ok := s.source.(recording.Muter); ok {
		st.Muted = m.Muted()
	}
	if p := s.active; p != nil {
		st.SessionID = p.id
		st.Grammar = slices.Clone(p.opts.Grammar)
		if !p.deadline.IsZero() {
			st.Remaining = max(time.Until(p.deadline), 0)
		}
	}
	return st
}

// Close unloads the model and stops event delivery after queued events
// have been handled.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Unload()
	s.events.Close()
}

// settle waits out any in-flight start, tears down any active phase and
// returns with s.mu held and no phase running.
func (s *Session) settle() {
	s.mu.Lock()
	for s.active != nil || s.starting != nil {
		if starting := s.starting; starting != nil {
			s.mu.Unlock()
			<-starting
			s.mu.Lock()
			continue
		}
		p := s.active
		s.mu.Unlock()
		s.teardown(p, reasonStop)
		<-p.stopped
		s.mu.Lock()
	}
}

// teardown ends phase p. Only the first caller for a phase does the work and
// gets true; later callers return false immediately.
func (s *Session) teardown(p *phase, reason stopReason) bool {
	s.mu.Lock()
	if s.active != p || s.state != Listening {
		s.mu.Unlock()
		return false
	}
	s.state = Stopping
	s.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	if err := s.source.Stop(); err != nil {
		log.Printf("Session: error stopping capture: %v", err)
	}
	p.cancel()
	<-p.done

	var final string
	if reason == reasonStop {
		final = finalText(p.rec.FinalResult())
		if final == "" {
			final = p.pending
		}
	}
	p.rec.Close()
	p.final = final
	p.timedOut = reason == reasonTimeout

	s.mu.Lock()
	s.active = nil
	s.state = Ready
	s.mu.Unlock()

	// the closing event is queued before waiters wake
	defer close(p.stopped)

	switch reason {
	case reasonStop:
		if final != "" {
			s.emit(p, events.FinalResult, final)
		}
		log.Printf("Session: stopped (id=%s)", p.id)
	case reasonTimeout:
		s.emit(p, events.Timeout, "")
		log.Printf("Session: timed out (id=%s)", p.id)
	case reasonUtterance:
		log.Printf("Session: utterance complete (id=%s)", p.id)
	}
	return true
}

// OnResult registers fn for every end-of-utterance result.
func (s *Session) OnResult(fn func(text string)) *events.Subscription {
	return s.events.On(events.Result, func(ev events.Event) { fn(ev.Text) })
}

// OnFinalResult registers fn for the hypothesis flushed by Stop.
func (s *Session) OnFinalResult(fn func(text string)) *events.Subscription {
	return s.events.On(events.FinalResult, func(ev events.Event) { fn(ev.Text) })
}

func (s *Session) OnPartialResult(fn func(text string)) *events.Subscription {
	return s.events.On(events.PartialResult, func(ev events.Event) { fn(ev.Text) })
}

func (s *Session) OnError(fn func(msg string)) *events.Subscription {
	return s.events.On(events.Error, func(ev events.Event) { fn(ev.Text) })
}

func (s *Session) OnTimeout(fn func()) *events.Subscription {
	return s.events.On(events.Timeout, func(events.Event) { fn() })
}

// Subscribe registers h for kind with access to the full event.
func (s *Session) Subscribe(kind events.Kind, h events.Handler) *events.Subscription {
	return s.events.On(kind, h)
}

func (s *Session) emit(p *phase, kind events.Kind, text string) {
	s.events.Emit(events.Event{Kind: kind, Text: text, SessionID: p.id})
}

func (s *Session) emitFault(p *phase, op string, err error) {
	fault := &EngineFault{Op: op, Err: err}
	log.Printf("Session: %v", fault)
	select {
	case p.faults <- fault:
	default:
	}
	s.events.Emit(events.Event{Kind: events.Error, Text: fault.Error(), Err: fault, SessionID: p.id})
}
