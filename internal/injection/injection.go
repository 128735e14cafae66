// Package injection types recognized text into the focused window.
package injection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyText      = errors.New("cannot inject empty text")
	ErrNoBackend      = errors.New("no injection backend succeeded")
	ErrUnknownBackend = errors.New("unknown injection backend")
)

var DefaultBackendOrder = []string{"wtype", "ydotool", "clipboard"}

// Backend delivers text to the desktop.
type Backend interface {
	Name() string
	Available() error
	Inject(ctx context.Context, text string, timeout time.Duration) error
}

type Config struct {
	Backends []string      // tried in order until one succeeds
	Timeout  time.Duration // per backend
	Suffix   string        // appended to every injected text
}

// Injector tries its backends in order and stops at the first success.
type Injector struct {
	backends []Backend
	timeout  time.Duration
	suffix   string
}

// New builds an injector from backend names. An empty list selects
// DefaultBackendOrder.
func New(cfg Config) (*Injector, error) {
	names := cfg.Backends
	if len(names) == 0 {
		names = DefaultBackendOrder
	}

	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		b, err := backendFor(name)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return NewWithBackends(cfg.Timeout, cfg.Suffix, backends...), nil
}

func NewWithBackends(timeout time.Duration, suffix string, backends ...Backend) *Injector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Injector{backends: backends, timeout: timeout, suffix: suffix}
}

func backendFor(name string) (Backend, error) {
	switch name {
	case "wtype":
		return NewWtypeBackend(), nil
	case "ydotool":
		return NewYdotoolBackend(), nil
	case "clipboard":
		return NewClipboardBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// ValidBackend reports whether name selects a known backend.
func ValidBackend(name string) bool {
	_, err := backendFor(name)
	return err == nil
}

// Backends returns the configured backend names in try order.
func (i *Injector) Backends() []string {
	names := make([]string, len(i.backends))
	for n, b := range i.backends {
		names[n] = b.Name()
	}
	return names
}

// Inject returns the name of the backend that delivered text.
func (i *Injector) Inject(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	text += i.suffix

	var errs []error
	for _, b := range i.backends {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := b.Available(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if err := b.Inject(ctx, text, i.timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		return b.Name(), nil
	}
	if len(errs) == 0 {
		return "", ErrNoBackend
	}
	return "", fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}
