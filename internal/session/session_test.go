package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/leonardotrapani/voskbind/internal/events"
	"github.com/leonardotrapani/voskbind/internal/models"
	"github.com/leonardotrapani/voskbind/internal/recording"
	"github.com/leonardotrapani/voskbind/internal/session"
	"github.com/leonardotrapani/voskbind/internal/testutil"
)

const wait = 2 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(s *session.Session) *recorder {
	r := &recorder{}
	for _, kind := range events.Kinds {
		s.Subscribe(kind, r.add)
	}
	return r
}

func (r *recorder) add(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) texts(kind events.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (r *recorder) count(kind events.Kind) int { return len(r.texts(kind)) }

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newSession(t *testing.T, opts ...session.Option) (*session.Session, *testutil.MockEngine, *testutil.MockSource) {
	t.Helper()
	eng := testutil.NewMockEngine()
	src := testutil.NewMockSource()
	s := session.New(eng, src, opts...)
	t.Cleanup(s.Close)
	return s, eng, src
}

func newReadySession(t *testing.T, opts ...session.Option) (*session.Session, *testutil.MockEngine, *testutil.MockSource) {
	t.Helper()
	s, eng, src := newSession(t, opts...)
	if err := s.LoadModel(context.Background(), "/models/en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	return s, eng, src
}

func currentRecognizer(t *testing.T, eng *testutil.MockEngine) *testutil.MockRecognizer {
	t.Helper()
	recs := eng.LastModel().Recognizers()
	if len(recs) == 0 {
		t.Fatal("no recognizer created")
	}
	return recs[len(recs)-1]
}

func push(t *testing.T, src *testutil.MockSource, frames ...[]byte) {
	t.Helper()
	for _, f := range frames {
		if !src.Push(f) {
			t.Fatalf("failed to push frame %q", f)
		}
	}
}

func waitState(t *testing.T, s *session.Session, want session.State) {
	t.Helper()
	testutil.WaitForCondition(t, func() bool { return s.State() == want }, wait)
}

func TestLoadAndUnload(t *testing.T) {
	s, eng, _ := newSession(t)

	if s.State() != session.Idle {
		t.Fatalf("new session state = %v, want idle", s.State())
	}

	if err := s.LoadModel(context.Background(), "file:///models/en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if s.State() != session.Ready {
		t.Errorf("state = %v, want ready", s.State())
	}
	if s.ModelPath() != "/models/en" {
		t.Errorf("ModelPath() = %q, want file scheme stripped", s.ModelPath())
	}
	if got := eng.Loaded(); !slices.Equal(got, []string{"/models/en"}) {
		t.Errorf("engine loaded %v", got)
	}

	s.Unload()
	if s.State() != session.Idle {
		t.Errorf("state after unload = %v, want idle", s.State())
	}
	if !eng.LastModel().Closed() {
		t.Error("model should be released on unload")
	}
	if s.ModelPath() != "" {
		t.Error("model path should be cleared on unload")
	}

	// unloading twice is harmless
	s.Unload()
}

func TestLoadModel_Failure(t *testing.T) {
	s, eng, _ := newSession(t)
	eng.LoadFunc = func(path string) error { return os.ErrNotExist }

	err := s.LoadModel(context.Background(), "/missing")
	var loadErr *session.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("LoadModel() error = %v, want *ModelLoadError", err)
	}
	if loadErr.Path != "/missing" || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected load error: %+v", loadErr)
	}
	if s.State() != session.Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrModelNotLoaded) {
		t.Errorf("Start() after failed load = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoadModel_ReplacesPrevious(t *testing.T) {
	s, eng, src := newReadySession(t)
	rec := record(s)
	first := eng.LastModel()

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	push(t, src, testutil.PartialFrame("hal"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)

	if err := s.LoadModel(context.Background(), "/models/de"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if !first.Closed() {
		t.Error("previous model should be released")
	}
	if s.State() != session.Ready || s.ModelPath() != "/models/de" {
		t.Errorf("state=%v path=%s", s.State(), s.ModelPath())
	}
	// listening was stopped first, flushing the pending hypothesis
	testutil.WaitForCondition(t, func() bool { return rec.count(events.FinalResult) == 1 }, wait)
}

func TestLoadModel_WhileLoading(t *testing.T) {
	s, eng, _ := newSession(t)
	gate := make(chan struct{})
	eng.Gate = gate

	done := make(chan error, 1)
	go func() { done <- s.LoadModel(context.Background(), "/models/slow") }()
	waitState(t, s, session.Loading)

	err := s.LoadModel(context.Background(), "/models/other")
	if !errors.Is(err, session.ErrLoadInProgress) {
		t.Errorf("concurrent LoadModel() = %v, want ErrLoadInProgress", err)
	}
	var loadErr *session.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("concurrent load error should be *ModelLoadError, got %T", err)
	}
	if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrModelNotLoaded) {
		t.Errorf("Start() while loading = %v, want ErrModelNotLoaded", err)
	}
	if err := s.SetGrammar(context.Background(), []string{"a"}); !errors.Is(err, session.ErrModelNotLoaded) {
		t.Errorf("SetGrammar() while loading = %v, want ErrModelNotLoaded", err)
	}

	s.Unload() // no-op while loading
	if s.State() != session.Loading {
		t.Errorf("Unload should not interrupt loading, state = %v", s.State())
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if s.State() != session.Ready || s.ModelPath() != "/models/slow" {
		t.Errorf("state=%v path=%s", s.State(), s.ModelPath())
	}
}

func TestLoadModel_CancelledContext(t *testing.T) {
	s, eng, _ := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.LoadModel(ctx, "/models/en")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("LoadModel() = %v, want context.Canceled", err)
	}
	if len(eng.Loaded()) != 0 {
		t.Error("engine should not be asked to load")
	}
	if s.State() != session.Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestLoadModel_UnpacksBundledAsset(t *testing.T) {
	assets := t.TempDir()
	modelsDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(assets, "model-en", "conf"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(assets, "model-en", "conf", "model.conf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, eng, _ := newSession(t, session.WithUnpacker(models.NewUnpacker(assets, modelsDir)))
	eng.LoadFunc = func(path string) error {
		if _, err := os.Stat(filepath.Join(path, "conf", "model.conf")); err != nil {
			return err
		}
		return nil
	}

	if err := s.LoadModel(context.Background(), "model-en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	want := filepath.Join(modelsDir, "model-en")
	if s.ModelPath() != want {
		t.Errorf("ModelPath() = %s, want %s", s.ModelPath(), want)
	}

	t.Run("missing asset", func(t *testing.T) {
		if err := s.LoadModel(context.Background(), "model-xx"); err == nil {
			t.Error("LoadModel() should fail when neither path nor asset exist")
		}
		if s.State() != session.Idle {
			t.Errorf("state = %v, want idle", s.State())
		}
	})
}

func TestWithLogLevel(t *testing.T) {
	eng := testutil.NewMockEngine()
	s := session.New(eng, testutil.NewMockSource(), session.WithLogLevel(-1))
	defer s.Close()
	if eng.LogLevel() != -1 {
		t.Errorf("engine log level = %d, want -1", eng.LogLevel())
	}
}

func TestStart_WithoutModel(t *testing.T) {
	s, _, src := newSession(t)
	if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrModelNotLoaded) {
		t.Errorf("Start() = %v, want ErrModelNotLoaded", err)
	}
	if src.Starts() != 0 {
		t.Error("capture should not start without a model")
	}
}

func TestStart_Twice(t *testing.T) {
	s, eng, src := newReadySession(t)

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != session.Listening || s.SessionID() == "" {
		t.Fatalf("state=%v id=%q", s.State(), s.SessionID())
	}

	if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrAlreadyActive) {
		t.Errorf("second Start() = %v, want ErrAlreadyActive", err)
	}
	if src.Starts() != 1 || len(eng.LastModel().Recognizers()) != 1 {
		t.Error("second Start must not touch capture or the engine")
	}
}

func TestStart_Format(t *testing.T) {
	tests := []struct {
		name       string
		rate       int
		grammar    []string
		wantBuffer int
		wantGram   string
	}{
		{"16k unconstrained", 16000, nil, 3200, "[]"},
		{"44.1k with grammar", 44100, []string{"left", "right", "[unk]"}, 8820, `["left", "right", "[unk]"]`},
		{"8k empty grammar", 8000, []string{}, 1600, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eng, src := newReadySession(t)
			src.SampleRate = tt.rate

			if err := s.Start(context.Background(), session.Options{Grammar: tt.grammar}); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			rec := currentRecognizer(t, eng)
			if rec.SampleRate != float64(tt.rate) {
				t.Errorf("recognizer rate = %v, want %d", rec.SampleRate, tt.rate)
			}
			if rec.Grammar != tt.wantGram {
				t.Errorf("recognizer grammar = %s, want %s", rec.Grammar, tt.wantGram)
			}
			if src.BufferSize() != tt.wantBuffer {
				t.Errorf("buffer size = %d, want %d", src.BufferSize(), tt.wantBuffer)
			}
		})
	}
}

func TestStart_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		setup      func(src *testutil.MockSource, m *testutil.MockModel)
		permission bool
		wantRecs   int
	}{
		{"format discovery fails", func(src *testutil.MockSource, m *testutil.MockModel) { src.FormatError = boom }, false, 0},
		{"recognizer fails", func(src *testutil.MockSource, m *testutil.MockModel) { m.RecognizerError = boom }, false, 0},
		{"capture fails", func(src *testutil.MockSource, m *testutil.MockModel) { src.StartError = boom }, false, 1},
		{"authorize fails", func(src *testutil.MockSource, m *testutil.MockModel) { src.AuthorizeError = boom }, false, 0},
		{"permission denied", func(src *testutil.MockSource, m *testutil.MockModel) {
			src.AuthorizeError = recording.ErrPermissionDenied
		}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eng, src := newReadySession(t)
			tt.setup(src, eng.LastModel())

			err := s.Start(context.Background(), session.Options{Timeout: time.Minute})
			if tt.permission {
				if !errors.Is(err, session.ErrPermissionDenied) {
					t.Errorf("Start() = %v, want ErrPermissionDenied", err)
				}
				var startErr *session.StartError
				if errors.As(err, &startErr) {
					t.Error("permission errors are not start errors")
				}
			} else {
				var startErr *session.StartError
				if !errors.As(err, &startErr) || !errors.Is(err, boom) {
					t.Errorf("Start() = %v, want *StartError wrapping boom", err)
				}
			}

			if s.State() != session.Ready {
				t.Errorf("state = %v, want ready", s.State())
			}
			recs := eng.LastModel().Recognizers()
			if len(recs) != tt.wantRecs {
				t.Fatalf("created %d recognizers, want %d", len(recs), tt.wantRecs)
			}
			for _, r := range recs {
				if !r.Closed() {
					t.Error("recognizer from a failed start must be released")
				}
			}
		})
	}
}

func TestStop_NotListening(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	s.Stop()
	s.Stop()

	if s.State() != session.Ready {
		t.Errorf("state = %v, want ready", s.State())
	}
	if src.Stops() != 0 {
		t.Error("Stop with nothing listening must not touch capture")
	}
	time.Sleep(20 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Errorf("unexpected events: %+v", rec.all())
	}
}

func TestPartialsAndResult(t *testing.T) {
	s, eng, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	id := s.SessionID()

	push(t, src,
		testutil.PartialFrame("lef"),
		testutil.PartialFrame("lef"),
		[]byte("silence"),
		testutil.PartialFrame("left"),
		testutil.FinalFrame("left"),
	)

	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.Result) == 1 }, wait)

	if got := rec.texts(events.PartialResult); !slices.Equal(got, []string{"lef", "left"}) {
		t.Errorf("partials = %v, want [lef left]", got)
	}
	if got := rec.texts(events.Result); !slices.Equal(got, []string{"left"}) {
		t.Errorf("results = %v, want [left]", got)
	}
	if rec.count(events.FinalResult) != 0 || rec.count(events.Timeout) != 0 {
		t.Error("utterance end must not emit final or timeout events")
	}

	all := rec.all()
	if all[len(all)-1].Kind != events.Result {
		t.Error("result should be delivered after the partials")
	}
	for _, ev := range all {
		if ev.SessionID != id {
			t.Errorf("event %s carries session id %q, want %q", ev.Kind, ev.SessionID, id)
		}
	}

	r := currentRecognizer(t, eng)
	if !r.Closed() {
		t.Error("recognizer should be released after the utterance")
	}
	if src.IsRecording() {
		t.Error("capture should be stopped after the utterance")
	}
	if s.SessionID() != "" {
		t.Error("no session id once ready")
	}
}

func TestEmptyResult(t *testing.T) {
	s, _, src := newReadySession(t)
	var results []string
	var mu sync.Mutex
	s.OnResult(func(text string) {
		mu.Lock()
		results = append(results, text)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.FinalFrame(""))

	testutil.WaitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, wait)
	if results[0] != "" {
		t.Errorf("result = %q, want empty", results[0])
	}
}

func TestContinuous(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}
	push(t, src,
		testutil.PartialFrame("yes"),
		testutil.FinalFrame("yes"),
		testutil.PartialFrame("yes"),
		testutil.FinalFrame("yes"),
	)

	testutil.WaitForCondition(t, func() bool { return rec.count(events.Result) == 2 }, wait)
	if s.State() != session.Listening {
		t.Errorf("continuous mode should keep listening, state = %v", s.State())
	}
	// the same phrase in the next utterance is reported again
	if got := rec.texts(events.PartialResult); !slices.Equal(got, []string{"yes", "yes"}) {
		t.Errorf("partials = %v", got)
	}

	s.Stop()
	if s.State() != session.Ready {
		t.Errorf("state = %v, want ready", s.State())
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count(events.FinalResult) != 0 {
		t.Error("nothing pending, no final result expected")
	}
}

func TestStop_FlushesFinal(t *testing.T) {
	s, eng, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("hel"), testutil.PartialFrame("hello"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 2 }, wait)

	s.Stop()
	if s.State() != session.Ready {
		t.Errorf("Stop should return once ready, state = %v", s.State())
	}
	if !currentRecognizer(t, eng).Closed() {
		t.Error("recognizer should be released")
	}

	testutil.WaitForCondition(t, func() bool { return rec.count(events.FinalResult) == 1 }, wait)
	if got := rec.texts(events.FinalResult); got[0] != "hello" {
		t.Errorf("final = %q, want hello", got[0])
	}
}

func TestTimeout(t *testing.T) {
	s, eng, src := newReadySession(t)
	rec := record(s)

	var timeouts int
	var mu sync.Mutex
	s.OnTimeout(func() {
		mu.Lock()
		timeouts++
		mu.Unlock()
	})

	if err := s.Start(context.Background(), session.Options{Timeout: 100 * time.Millisecond, Continuous: true}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("pending"))

	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.Timeout) == 1 }, wait)
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if timeouts != 1 || rec.count(events.Timeout) != 1 {
		t.Errorf("timeouts = %d, want exactly 1", timeouts)
	}
	if rec.count(events.FinalResult) != 0 {
		t.Error("a timeout discards the pending hypothesis")
	}
	if !currentRecognizer(t, eng).Closed() || src.IsRecording() {
		t.Error("timeout must release the recognizer and capture")
	}
}

func TestTimeout_DisarmedByStop(t *testing.T) {
	s, _, _ := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{Timeout: 60 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	time.Sleep(150 * time.Millisecond)

	if rec.count(events.Timeout) != 0 {
		t.Error("stopped phase must not time out")
	}
}

func TestStopRacingTimeout(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, eng, src := newReadySession(t)
		rec := record(s)

		if err := s.Start(context.Background(), session.Options{Timeout: 5 * time.Millisecond, Continuous: true}); err != nil {
			t.Fatal(err)
		}
		push(t, src, testutil.PartialFrame("x"))
		time.Sleep(4 * time.Millisecond)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Stop()
			}()
		}
		wg.Wait()

		waitState(t, s, session.Ready)
		time.Sleep(20 * time.Millisecond)

		terminal := rec.count(events.Timeout) + rec.count(events.FinalResult)
		if terminal > 1 {
			t.Fatalf("run %d: got %d terminal events, want at most 1", i, terminal)
		}
		if rec.count(events.Timeout) > 1 {
			t.Fatalf("run %d: duplicate timeout", i)
		}
		if src.Stops() != 1 {
			t.Fatalf("run %d: capture stopped %d times, want 1", i, src.Stops())
		}
		if r := currentRecognizer(t, eng); !r.Closed() || r.Concurrent() {
			t.Fatalf("run %d: recognizer closed=%v concurrent=%v", i, r.Closed(), r.Concurrent())
		}
	}
}

func TestEngineFault(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	var msgs []string
	var mu sync.Mutex
	s.OnError(func(msg string) {
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.FaultFrame("decoder exploded"), testutil.PartialFrame("still here"))

	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)
	if s.State() != session.Listening {
		t.Errorf("decoding should continue after a fault, state = %v", s.State())
	}

	var fault *session.EngineFault
	for _, ev := range rec.all() {
		if ev.Kind == events.Error {
			if !errors.As(ev.Err, &fault) {
				t.Errorf("error payload %T, want *EngineFault", ev.Err)
			}
		}
	}
	if fault == nil || fault.Op != "accept waveform" {
		t.Errorf("fault = %+v", fault)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 || msgs[0] != "accept waveform: decoder exploded" {
		t.Errorf("OnError got %v", msgs)
	}
}

func TestCaptureError(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}
	if !src.Fail(errors.New("device unplugged")) {
		t.Fatal("failed to inject capture error")
	}

	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.Error) == 1 }, wait)
	if got := rec.texts(events.Error)[0]; got != "capture: device unplugged" {
		t.Errorf("error text = %q", got)
	}
}

func TestCaptureEnds(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("abc"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)

	src.End()

	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.FinalResult) == 1 }, wait)
	if got := rec.texts(events.FinalResult)[0]; got != "abc" {
		t.Errorf("final = %q, want abc", got)
	}
}

func TestLastEmittedResetsBetweenPhases(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
			t.Fatal(err)
		}
		push(t, src, testutil.PartialFrame("again"))
		want := i + 1
		testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == want }, wait)
		s.Stop()
	}
}

func TestSetGrammar(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		s, _, _ := newSession(t)
		if err := s.SetGrammar(context.Background(), []string{"a"}); !errors.Is(err, session.ErrModelNotLoaded) {
			t.Errorf("SetGrammar() = %v, want ErrModelNotLoaded", err)
		}
	})

	t.Run("ready is a no-op", func(t *testing.T) {
		s, eng, src := newReadySession(t)
		if err := s.SetGrammar(context.Background(), []string{"a"}); err != nil {
			t.Errorf("SetGrammar() = %v", err)
		}
		if s.State() != session.Ready || src.Starts() != 0 || len(eng.LastModel().Recognizers()) != 0 {
			t.Error("SetGrammar while ready must not start anything")
		}
	})

	t.Run("listening restarts", func(t *testing.T) {
		s, eng, src := newReadySession(t)
		rec := record(s)

		if err := s.Start(context.Background(), session.Options{Grammar: []string{"yes", "no"}, Timeout: 400 * time.Millisecond}); err != nil {
			t.Fatal(err)
		}
		oldID := s.SessionID()
		push(t, src, testutil.PartialFrame("ye"))
		testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)
		time.Sleep(100 * time.Millisecond)

		if err := s.SetGrammar(context.Background(), []string{"left", "right"}); err != nil {
			t.Fatalf("SetGrammar() = %v", err)
		}
		if s.State() != session.Listening {
			t.Fatalf("state = %v, want listening", s.State())
		}
		if s.SessionID() == oldID {
			t.Error("restart should begin a new phase")
		}

		recs := eng.LastModel().Recognizers()
		if len(recs) != 2 || !recs[0].Closed() || recs[1].Grammar != `["left", "right"]` {
			t.Errorf("recognizers after restart: %d, new grammar %q", len(recs), recs[len(recs)-1].Grammar)
		}

		st := s.Status()
		if st.Remaining <= 0 || st.Remaining > 320*time.Millisecond {
			t.Errorf("remaining timeout = %v, want carried over", st.Remaining)
		}
		if !slices.Equal(st.Grammar, []string{"left", "right"}) {
			t.Errorf("status grammar = %v", st.Grammar)
		}

		time.Sleep(20 * time.Millisecond)
		if rec.count(events.FinalResult) != 0 || rec.count(events.Timeout) != 0 {
			t.Error("restart must not emit events")
		}

		waitState(t, s, session.Ready)
		testutil.WaitForCondition(t, func() bool { return rec.count(events.Timeout) == 1 }, wait)
	})
}

func TestSetMuted(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMuted(true); err != nil {
		t.Fatalf("SetMuted() = %v", err)
	}
	if !s.Status().Muted {
		t.Error("status should report muted")
	}
	push(t, src, testutil.PartialFrame("secret"))

	if err := s.SetMuted(false); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("public"))

	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)
	if got := rec.texts(events.PartialResult); got[0] != "public" {
		t.Errorf("partials = %v, muted audio leaked", got)
	}
	if s.State() != session.Listening {
		t.Error("muting must not end the phase")
	}

	t.Run("unsupported", func(t *testing.T) {
		plain := session.New(testutil.NewMockEngine(), struct{ recording.Source }{testutil.NewMockSource()})
		defer plain.Close()
		if err := plain.SetMuted(true); !errors.Is(err, session.ErrMuteUnsupported) {
			t.Errorf("SetMuted() = %v, want ErrMuteUnsupported", err)
		}
	})
}

func TestUnloadWhileListening(t *testing.T) {
	s, eng, src := newReadySession(t)
	rec := record(s)

	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("bye"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)

	s.Unload()
	if s.State() != session.Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if !currentRecognizer(t, eng).Closed() || !eng.LastModel().Closed() {
		t.Error("unload should release recognizer and model")
	}
	testutil.WaitForCondition(t, func() bool { return rec.count(events.FinalResult) == 1 }, wait)
}

func TestRecognize(t *testing.T) {
	pushWhenListening := func(s *session.Session, src *testutil.MockSource, frame []byte) {
		go func() {
			for s.State() != session.Listening {
				time.Sleep(time.Millisecond)
			}
			src.Push(frame)
		}()
	}

	t.Run("result", func(t *testing.T) {
		s, _, src := newReadySession(t)
		pushWhenListening(s, src, testutil.FinalFrame("open the door"))

		ctx, cancel := testutil.TestContext()
		defer cancel()
		text, err := s.Recognize(ctx, session.Options{Continuous: true})
		if err != nil || text != "open the door" {
			t.Errorf("Recognize() = %q, %v", text, err)
		}
		waitState(t, s, session.Ready)
	})

	t.Run("timeout", func(t *testing.T) {
		s, _, _ := newReadySession(t)
		ctx, cancel := testutil.TestContext()
		defer cancel()
		_, err := s.Recognize(ctx, session.Options{Timeout: 50 * time.Millisecond})
		if !errors.Is(err, session.ErrTimeout) {
			t.Errorf("Recognize() = %v, want ErrTimeout", err)
		}
	})

	t.Run("engine fault", func(t *testing.T) {
		s, _, src := newReadySession(t)
		pushWhenListening(s, src, testutil.FaultFrame("bad audio"))

		ctx, cancel := testutil.TestContext()
		defer cancel()
		_, err := s.Recognize(ctx, session.Options{})
		var fault *session.EngineFault
		if !errors.As(err, &fault) {
			t.Errorf("Recognize() = %v, want *EngineFault", err)
		}
		if s.State() != session.Ready {
			t.Errorf("state = %v, want ready", s.State())
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		s, _, _ := newReadySession(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := s.Recognize(ctx, session.Options{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Recognize() = %v, want DeadlineExceeded", err)
		}
		if s.State() != session.Ready {
			t.Errorf("state = %v, want ready", s.State())
		}
	})

	t.Run("stopped elsewhere", func(t *testing.T) {
		s, _, src := newReadySession(t)
		pushWhenListening(s, src, testutil.PartialFrame("half"))
		go func() {
			for s.SessionID() == "" {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(30 * time.Millisecond)
			s.Stop()
		}()

		ctx, cancel := testutil.TestContext()
		defer cancel()
		text, err := s.Recognize(ctx, session.Options{})
		if err != nil || text != "half" {
			t.Errorf("Recognize() = %q, %v", text, err)
		}
	})

	t.Run("not loaded", func(t *testing.T) {
		s, _, _ := newSession(t)
		if _, err := s.Recognize(context.Background(), session.Options{}); !errors.Is(err, session.ErrModelNotLoaded) {
			t.Errorf("Recognize() = %v, want ErrModelNotLoaded", err)
		}
	})
}

func TestSubscriptionRemove(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	var mu sync.Mutex
	var seen []string
	sub := s.OnPartialResult(func(text string) {
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}
	push(t, src, testutil.PartialFrame("one"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 1 }, wait)

	sub.Remove()
	sub.Remove()
	push(t, src, testutil.PartialFrame("two"))
	testutil.WaitForCondition(t, func() bool { return rec.count(events.PartialResult) == 2 }, wait)

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"one"}) {
		t.Errorf("removed handler saw %v", seen)
	}
}

func TestClose(t *testing.T) {
	eng := testutil.NewMockEngine()
	s := session.New(eng, testutil.NewMockSource())
	if err := s.LoadModel(context.Background(), "/models/en"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), session.Options{}); err != nil {
		t.Fatal(err)
	}

	s.Close()
	if s.State() != session.Idle || !eng.LastModel().Closed() {
		t.Error("Close should unload")
	}
	if err := s.LoadModel(context.Background(), "/models/en"); !errors.Is(err, session.ErrClosed) {
		t.Errorf("LoadModel() after Close = %v, want ErrClosed", err)
	}
	if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Recognize(context.Background(), session.Options{}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Recognize() after Close = %v, want ErrClosed", err)
	}
	if err := s.SetGrammar(context.Background(), []string{"a"}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("SetGrammar() after Close = %v, want ErrClosed", err)
	}
	if err := s.SetMuted(true); !errors.Is(err, session.ErrClosed) {
		t.Errorf("SetMuted() after Close = %v, want ErrClosed", err)
	}
	s.Close()
}

func TestStateString(t *testing.T) {
	tests := map[session.State]string{
		session.Idle:      "idle",
		session.Loading:   "loading",
		session.Ready:     "ready",
		session.Listening: "listening",
		session.Stopping:  "stopping",
		session.State(42): "unknown",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", int(st), st.String(), want)
		}
	}
}

func TestWait(t *testing.T) {
	s, _, src := newReadySession(t)

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() while ready = %v", err)
	}

	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() while listening = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	push(t, src, testutil.FinalFrame("one"))
	src.End()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(wait):
		t.Fatal("Wait() did not return after capture ended")
	}
	if s.State() != session.Ready {
		t.Errorf("state = %v, want ready", s.State())
	}
}

func TestOperationsFromHandler(t *testing.T) {
	tests := []struct {
		name  string
		op    func(s *session.Session)
		state session.State
	}{
		{"stop", func(s *session.Session) { s.Stop() }, session.Ready},
		{"unload", func(s *session.Session) { s.Unload() }, session.Idle},
		{"set grammar", func(s *session.Session) { _ = s.SetGrammar(context.Background(), []string{"a"}) }, session.Listening},
		{"load model", func(s *session.Session) { _ = s.LoadModel(context.Background(), "/models/other") }, session.Ready},
		{"close", func(s *session.Session) { s.Close() }, session.Idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a one-slot queue fills while the handler is busy
			s, _, src := newReadySession(t, session.WithEventBuffer(1))
			if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
				t.Fatal(err)
			}

			var once sync.Once
			returned := make(chan struct{})
			s.OnPartialResult(func(string) {
				once.Do(func() {
					tt.op(s)
					close(returned)
				})
			})

			for _, text := range []string{"a", "ab", "abc", "abcd"} {
				src.Push(testutil.PartialFrame(text))
			}

			select {
			case <-returned:
			case <-time.After(wait):
				t.Fatalf("%s called from a handler never returned (state=%v)", tt.name, s.State())
			}
			waitState(t, s, tt.state)
		})
	}
}

func TestStopFromResultHandlerFlushes(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)
	if err := s.Start(context.Background(), session.Options{Continuous: true}); err != nil {
		t.Fatal(err)
	}
	s.OnResult(func(string) { s.Stop() })

	push(t, src, testutil.FinalFrame("left"), testutil.PartialFrame("rig"))

	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.Result) == 1 }, wait)
	if got := rec.texts(events.Result); got[0] != "left" {
		t.Errorf("result = %q", got[0])
	}
}

// gatedSource holds Authorize until gate is closed.
type gatedSource struct {
	*testutil.MockSource
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
	release func()
}

func newGatedSource() *gatedSource {
	g := &gatedSource{
		MockSource: testutil.NewMockSource(),
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
	}
	g.release = sync.OnceFunc(func() { close(g.gate) })
	return g
}

func (g *gatedSource) Authorize(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return nil
}

func TestStartDoesNotHoldSession(t *testing.T) {
	t.Run("introspection stays responsive", func(t *testing.T) {
		src := newGatedSource()
		s := session.New(testutil.NewMockEngine(), src)
		t.Cleanup(s.Close)
		t.Cleanup(src.release)
		if err := s.LoadModel(context.Background(), "/models/en"); err != nil {
			t.Fatal(err)
		}

		started := make(chan error, 1)
		go func() { started <- s.Start(context.Background(), session.Options{}) }()
		<-src.entered

		answered := make(chan session.Status, 1)
		go func() { answered <- s.Status() }()
		select {
		case st := <-answered:
			if st.State != session.Ready {
				t.Errorf("state during start = %v, want ready", st.State)
			}
		case <-time.After(wait):
			t.Fatal("Status blocked behind an in-flight start")
		}

		if err := s.Start(context.Background(), session.Options{}); !errors.Is(err, session.ErrAlreadyActive) {
			t.Errorf("second Start() = %v, want ErrAlreadyActive", err)
		}

		src.release()
		if err := <-started; err != nil {
			t.Fatalf("Start() = %v", err)
		}
		if s.State() != session.Listening {
			t.Errorf("state = %v, want listening", s.State())
		}
	})

	t.Run("close waits for the start", func(t *testing.T) {
		src := newGatedSource()
		eng := testutil.NewMockEngine()
		s := session.New(eng, src)
		t.Cleanup(src.release)
		if err := s.LoadModel(context.Background(), "/models/en"); err != nil {
			t.Fatal(err)
		}

		started := make(chan error, 1)
		go func() { started <- s.Start(context.Background(), session.Options{}) }()
		<-src.entered

		closed := make(chan struct{})
		go func() {
			s.Close()
			close(closed)
		}()
		select {
		case <-closed:
			t.Fatal("Close returned while a start was still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		src.release()
		if err := <-started; !errors.Is(err, session.ErrClosed) {
			t.Errorf("Start() = %v, want ErrClosed", err)
		}
		select {
		case <-closed:
		case <-time.After(wait):
			t.Fatal("Close did not return")
		}

		m := eng.LastModel()
		if !m.Closed() || src.IsRecording() {
			t.Error("Close should release the model and capture")
		}
		for _, r := range m.Recognizers() {
			if !r.Closed() {
				t.Error("recognizer from the abandoned start was not released")
			}
		}
	})
}

func TestListenReturnsPhaseID(t *testing.T) {
	s, _, src := newReadySession(t)
	rec := record(s)

	id, err := s.Listen(context.Background(), session.Options{})
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	if id == "" {
		t.Fatal("Listen() returned an empty id")
	}

	push(t, src, testutil.FinalFrame("go"))
	waitState(t, s, session.Ready)
	testutil.WaitForCondition(t, func() bool { return rec.count(events.Result) == 1 }, wait)

	if s.SessionID() != "" {
		t.Errorf("SessionID() after the phase = %q, want empty", s.SessionID())
	}
	if got := rec.all()[0].SessionID; got != id {
		t.Errorf("event phase = %q, Listen returned %q", got, id)
	}
}
