package recording

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	// ErrPermissionDenied reports that the platform refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
)

type AudioFrame struct {
	Data      []byte
	Timestamp time.Time
}

// Format describes what the capture device delivers.
type Format struct {
	SampleRate int
	Channels   int
}

// BufferSize returns the byte size of ~100ms of 16-bit mono audio.
func (f Format) BufferSize() int {
	samples := f.SampleRate / 10
	if samples <= 0 {
		samples = 1
	}
	return samples * 2
}

// Source is a microphone capture subscription.
type Source interface {
	// Format discovers the input format without starting capture.
	Format(ctx context.Context) (Format, error)
	// Start delivers frames of bufferSize bytes until Stop or ctx is done.
	// Both channels are closed when capture ends.
	Start(ctx context.Context, bufferSize int) (<-chan AudioFrame, <-chan error, error)
	// Stop ends capture and returns once no more frames will be sent.
	Stop() error
	IsRecording() bool
}

// Muter is implemented by sources that can silence capture without
// tearing down the subscription.
type Muter interface {
	SetMuted(muted bool)
	Muted() bool
}

// Authorizer is implemented by sources that can check microphone access
// before capture starts.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

type Config struct {
	Backend           string
	SampleRate        int
	Channels          int
	Format            string
	Device            string
	ChannelBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Backend:           "pipewire",
		SampleRate:        16000,
		Channels:          1,
		Format:            "s16",
		Device:            "",
		ChannelBufferSize: 30,
	}
}

var backends = map[string]func(Config) (Source, error){
	"pipewire": func(cfg Config) (Source, error) { return NewRecorder(cfg), nil },
}

// New returns the capture source for cfg.Backend.
func New(cfg Config) (Source, error) {
	newSource, ok := backends[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("capture backend %q not available (compiled: %v)", cfg.Backend, Backends())
	}
	return newSource(cfg)
}

// Backends lists compiled-in capture backends.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
