package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leonardotrapani/voskbind/internal/config"
	"github.com/leonardotrapani/voskbind/internal/engine"
	"github.com/leonardotrapani/voskbind/internal/recording"
)

// TestConfig returns a valid configuration for testing
func TestConfig() *config.Config {
	c := config.DefaultConfig()
	c.Model.Path = "/models/test"
	c.Model.Autoload = false
	c.Recognition.Timeout = 0
	c.Notifications.Type = "log"
	return c
}

// TestContext returns a context with timeout for testing
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Condition not met within %v", timeout)
		default:
			if condition() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Frames understood by MockRecognizer. Anything else is treated as silence.
func PartialFrame(text string) []byte { return []byte("P:" + text) }
func FinalFrame(text string) []byte   { return []byte("F:" + text) }
func FaultFrame(msg string) []byte    { return []byte("E:" + msg) }

// MockEngine implements engine.Engine for testing. Models open for any path
// unless LoadFunc rejects it.
type MockEngine struct {
	LoadFunc func(path string) error
	// Gate, when set, blocks LoadModel until it is closed.
	Gate chan struct{}

	mu       sync.Mutex
	loaded   []string
	models   []*MockModel
	logLevel int
}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) LoadModel(path string) (engine.Model, error) {
	if e.Gate != nil {
		<-e.Gate
	}
	if e.LoadFunc != nil {
		if err := e.LoadFunc(path); err != nil {
			return nil, err
		}
	}

	m := &MockModel{Path: path}
	e.mu.Lock()
	e.loaded = append(e.loaded, path)
	e.models = append(e.models, m)
	e.mu.Unlock()
	return m, nil
}

func (e *MockEngine) SetLogLevel(level int) {
	e.mu.Lock()
	e.logLevel = level
	e.mu.Unlock()
}

func (e *MockEngine) LogLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logLevel
}

// Loaded returns every path a model was opened from.
func (e *MockEngine) Loaded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loaded...)
}

// Models returns every model handed out, in load order.
func (e *MockEngine) Models() []*MockModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*MockModel(nil), e.models...)
}

// LastModel returns the most recently loaded model, or nil.
func (e *MockEngine) LastModel() *MockModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.models) == 0 {
		return nil
	}
	return e.models[len(e.models)-1]
}

type MockModel struct {
	Path            string
	RecognizerError error

	mu          sync.Mutex
	recognizers []*MockRecognizer
	closed      atomic.Bool
}

func (m *MockModel) NewRecognizer(sampleRate float64, grammar string) (engine.Recognizer, error) {
	if m.closed.Load() {
		return nil, errors.New("model closed")
	}
	if m.RecognizerError != nil {
		return nil, m.RecognizerError
	}

	r := &MockRecognizer{SampleRate: sampleRate, Grammar: grammar}
	m.mu.Lock()
	m.recognizers = append(m.recognizers, r)
	m.mu.Unlock()
	return r, nil
}

func (m *MockModel) Close() { m.closed.Store(true) }

func (m *MockModel) Closed() bool { return m.closed.Load() }

func (m *MockModel) Recognizers() []*MockRecognizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockRecognizer(nil), m.recognizers...)
}

// MockRecognizer decodes the frame scripts built by PartialFrame,
// FinalFrame and FaultFrame.
type MockRecognizer struct {
	SampleRate float64
	Grammar    string

	partial string
	result  string

	busy       atomic.Bool
	concurrent atomic.Bool
	closed     atomic.Bool
	frames     atomic.Int64
}

func (r *MockRecognizer) enter() {
	if !r.busy.CompareAndSwap(false, true) {
		r.concurrent.Store(true)
	}
}

func (r *MockRecognizer) leave() { r.busy.Store(false) }

func (r *MockRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	r.enter()
	defer r.leave()
	r.frames.Add(1)

	if r.closed.Load() {
		return false, errors.New("recognizer used after close")
	}

	cmd, arg, _ := strings.Cut(string(pcm), ":")
	switch cmd {
	case "P":
		r.partial = arg
	case "F":
		r.result = arg
		r.partial = ""
		return true, nil
	case "E":
		return false, errors.New(arg)
	}
	return false, nil
}

func (r *MockRecognizer) Result() string {
	r.enter()
	defer r.leave()
	return payload("text", r.result)
}

func (r *MockRecognizer) PartialResult() string {
	r.enter()
	defer r.leave()
	return payload("partial", r.partial)
}

func (r *MockRecognizer) FinalResult() string {
	r.enter()
	defer r.leave()
	text := r.partial
	r.partial = ""
	return payload("text", text)
}

func (r *MockRecognizer) Close() { r.closed.Store(true) }

func (r *MockRecognizer) Closed() bool { return r.closed.Load() }

// Concurrent reports whether two calls ever overlapped.
func (r *MockRecognizer) Concurrent() bool { return r.concurrent.Load() }

func (r *MockRecognizer) Frames() int64 { return r.frames.Load() }

func payload(key, text string) string {
	b, _ := json.Marshal(map[string]string{key: text})
	return string(b)
}

// MockSource implements recording.Source, recording.Muter and
// recording.Authorizer. Frames are delivered with Push.
type MockSource struct {
	SampleRate     int
	FormatError    error
	StartError     error
	AuthorizeError error

	mu         sync.Mutex
	frames     chan recording.AudioFrame
	errs       chan error
	starts     int
	stops      int
	bufferSize int

	muted atomic.Bool
}

func NewMockSource() *MockSource {
	return &MockSource{SampleRate: 16000}
}

func (s *MockSource) Authorize(ctx context.Context) error {
	return s.AuthorizeError
}

func (s *MockSource) Format(ctx context.Context) (recording.Format, error) {
	if s.FormatError != nil {
		return recording.Format{}, s.FormatError
	}
	return recording.Format{SampleRate: s.SampleRate, Channels: 1}, nil
}

func (s *MockSource) Start(ctx context.Context, bufferSize int) (<-chan recording.AudioFrame, <-chan error, error) {
	if s.StartError != nil {
		return nil, nil, s.StartError
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != nil {
		return nil, nil, recording.ErrAlreadyRecording
	}

	frames := make(chan recording.AudioFrame, 64)
	errs := make(chan error, 1)
	s.frames, s.errs = frames, errs
	s.starts++
	s.bufferSize = bufferSize

	go func() {
		<-ctx.Done()
		s.closeStream(frames)
	}()

	return frames, errs, nil
}

// Push delivers one frame. It reports false when capture is not running or
// the buffer is full.
func (s *MockSource) Push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return false
	}
	if s.muted.Load() {
		data = make([]byte, len(data))
	}
	select {
	case s.frames <- recording.AudioFrame{Data: data, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Fail reports an asynchronous capture error.
func (s *MockSource) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		return false
	}
	select {
	case s.errs <- err:
		return true
	default:
		return false
	}
}

// End closes the stream as if the device went away.
func (s *MockSource) End() {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames != nil {
		s.closeStream(frames)
	}
}

func (s *MockSource) closeStream(frames chan recording.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames != frames {
		return
	}
	close(s.frames)
	close(s.errs)
	s.frames, s.errs = nil, nil
}

func (s *MockSource) Stop() error {
	s.mu.Lock()
	s.stops++
	frames := s.frames
	s.mu.Unlock()
	if frames != nil {
		s.closeStream(frames)
	}
	return nil
}

func (s *MockSource) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames != nil
}

func (s *MockSource) SetMuted(muted bool) { s.muted.Store(muted) }
func (s *MockSource) Muted() bool         { return s.muted.Load() }

func (s *MockSource) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *MockSource) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *MockSource) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferSize
}
