package session

import (
	"errors"
	"fmt"

	"github.com/leonardotrapani/voskbind/internal/recording"
)

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrAlreadyActive  = errors.New("recognition already active")
	ErrLoadInProgress = errors.New("model load already in progress")
	// ErrPermissionDenied is the capture layer's sentinel so errors.Is
	// matches no matter which side reports it.
	ErrPermissionDenied = recording.ErrPermissionDenied
	ErrMuteUnsupported  = errors.New("capture backend does not support muting")
	ErrTimeout          = errors.New("recognition timed out")
	ErrClosed           = errors.New("session closed")
)

// ModelLoadError is returned by LoadModel. The session is left Idle.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// StartError is returned by Start when the recognizer or the capture
// subscription could not be set up. The session stays Ready.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start recognizer: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// EngineFault is the payload of onError events.
type EngineFault struct {
	Op  string
	Err error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineFault) Unwrap() error { return e.Err }
