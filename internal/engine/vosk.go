//go:build vosk

package engine

import (
	"fmt"
	"os"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/leonardotrapani/voskbind/internal/grammar"
)

func init() {
	Register("vosk", func() (Engine, error) { return voskEngine{}, nil })
}

type voskEngine struct{}

func (voskEngine) Name() string { return "vosk" }

func (voskEngine) SetLogLevel(level int) { vosk.SetLogLevel(level) }

func (voskEngine) LoadModel(path string) (Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vosk model not found: %w", err)
	}

	model, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", path, err)
	}
	return &voskModel{model: model}, nil
}

type voskModel struct {
	model *vosk.VoskModel
}

func (m *voskModel) NewRecognizer(sampleRate float64, grm string) (Recognizer, error) {
	var (
		rec *vosk.VoskRecognizer
		err error
	)
	if grammar.IsUnconstrained(grm) {
		rec, err = vosk.NewRecognizer(m.model, sampleRate)
	} else {
		rec, err = vosk.NewRecognizerGrm(m.model, sampleRate, grm)
	}
	if err != nil {
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &voskRecognizer{rec: rec}, nil
}

func (m *voskModel) Close() {
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
}

type voskRecognizer struct {
	rec *vosk.VoskRecognizer
}

// AcceptWaveform maps the native 1/0/-1 result onto end-of-utterance or error.
func (r *voskRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	switch r.rec.AcceptWaveform(pcm) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("vosk failed to process %d bytes", len(pcm))
	}
}

func (r *voskRecognizer) Result() string        { return r.rec.Result() }
func (r *voskRecognizer) PartialResult() string { return r.rec.PartialResult() }
func (r *voskRecognizer) FinalResult() string   { return r.rec.FinalResult() }

func (r *voskRecognizer) Close() {
	if r.rec != nil {
		r.rec.Free()
		r.rec = nil
	}
}
