// Package events delivers session events to subscribers on a single
// dispatch goroutine, in the order they were emitted.
package events

import (
	"bytes"
	"log"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	Result        Kind = "onResult"
	FinalResult   Kind = "onFinalResult"
	PartialResult Kind = "onPartialResult"
	Error         Kind = "onError"
	Timeout       Kind = "onTimeout"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{Result, FinalResult, PartialResult, Error, Timeout}

type Event struct {
	Kind      Kind
	Text      string // recognized text, or the message for Error
	Err       error  // set for Error events
	SessionID string
	Time      time.Time
}

type Handler func(Event)

// Emitter fans events out to handlers registered per kind.
type Emitter struct {
	mu       sync.RWMutex // guards handlers and next
	handlers map[Kind]map[uint64]Handler
	next     uint64

	// qmu guards closed and queue. It is never held while a handler runs.
	qmu    sync.Mutex
	closed bool
	queue  []Event
	wake   chan struct{}
	done   chan struct{}

	dispatcher atomic.Uint64 // goroutine id running the handlers
}

// New starts an emitter. buffer sizes the queue up front; it grows as needed
// so Emit never blocks.
func New(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 64
	}
	e := &Emitter{
		handlers: make(map[Kind]map[uint64]Handler),
		queue:    make([]Event, 0, buffer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// On registers h for kind. The returned subscription removes it.
func (e *Emitter) On(kind Kind, h Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	id := e.next
	if e.handlers[kind] == nil {
		e.handlers[kind] = make(map[uint64]Handler)
	}
	e.handlers[kind][id] = h
	return &Subscription{emitter: e, kind: kind, id: id}
}

// Emit queues ev for delivery. Events emitted after Close are dropped.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.qmu.Unlock()

	e.signal()
}

func (e *Emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Listeners returns how many handlers are registered for kind.
func (e *Emitter) Listeners(kind Kind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[kind])
}

// Close delivers everything already queued, then stops the dispatcher. It
// waits for delivery to finish unless called from a handler, in which case
// the remaining events are delivered after that handler returns.
func (e *Emitter) Close() {
	e.qmu.Lock()
	e.closed = true
	e.qmu.Unlock()
	e.signal()

	if goid() == e.dispatcher.Load() {
		return
	}
	<-e.done
}

func (e *Emitter) dispatch() {
	defer close(e.done)
	e.dispatcher.Store(goid())

	for {
		e.qmu.Lock()
		batch := e.queue
		e.queue = nil
		closed := e.closed
		e.qmu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-e.wake
			continue
		}
		for _, ev := range batch {
			for _, h := range e.snapshot(ev.Kind) {
				e.call(h, ev)
			}
		}
	}
}

// goid returns the calling goroutine's id, parsed from its stack header
// ("goroutine 42 [running]:").
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

func (e *Emitter) snapshot(kind Kind) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hs := make([]Handler, 0, len(e.handlers[kind]))
	ids := make([]uint64, 0, len(e.handlers[kind]))
	for id := range e.handlers[kind] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		hs = append(hs, e.handlers[kind][id])
	}
	return hs
}

func (e *Emitter) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Events: handler for %s panicked: %v", ev.Kind, r)
		}
	}()
	h(ev)
}

func (e *Emitter) remove(kind Kind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers[kind], id)
}

// Subscription is a handle to a registered handler.
type Subscription struct {
	emitter *Emitter
	kind    Kind
	id      uint64
	once    sync.Once
}

// Remove unregisters the handler. Safe to call more than once.
func (s *Subscription) Remove() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.emitter.remove(s.kind, s.id)
	})
}

func (s *Subscription) Kind() Kind { return s.kind }
