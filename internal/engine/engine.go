// Package engine defines the capability surface a native speech engine must
// provide and a registry of compiled-in implementations.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable is returned by Open when no engine with the name is compiled in.
var ErrUnavailable = errors.New("engine not available")

// Engine loads models.
type Engine interface {
	Name() string
	// LoadModel opens the model bundle at path. It may be slow.
	LoadModel(path string) (Model, error)
	// SetLogLevel adjusts native log verbosity (-1 disables logs).
	SetLogLevel(level int)
}

// Model is a loaded model bundle. It can back many recognizers.
type Model interface {
	// NewRecognizer builds a recognizer at sampleRate. grammar is an encoded
	// grammar string; "" or "[]" means unconstrained.
	NewRecognizer(sampleRate float64, grammar string) (Recognizer, error)
	Close()
}

// Recognizer holds decoding state. It is not safe for concurrent use.
type Recognizer interface {
	// AcceptWaveform feeds 16-bit little-endian mono PCM and reports whether
	// the engine detected the end of an utterance.
	AcceptWaveform(pcm []byte) (bool, error)
	Result() string
	PartialResult() string
	// FinalResult flushes pending audio and returns the last hypothesis.
	FinalResult() string
	Close()
}

type Factory func() (Engine, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes an engine available under name. It is meant to be called
// from init functions of build-tagged implementations.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	factories[name] = f
}

// Open instantiates the named engine.
func Open(name string) (Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (compiled: %v)", ErrUnavailable, name, Names())
	}
	return f()
}

// Names lists registered engines.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
