package injection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// clipboardBackend leaves the text on the clipboard for the user to paste.
type clipboardBackend struct {
	write func(string) error
}

func NewClipboardBackend() Backend {
	return &clipboardBackend{write: clipboard.WriteAll}
}

func (c *clipboardBackend) Name() string {
	return "clipboard"
}

func (c *clipboardBackend) Available() error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility found (install wl-clipboard, xclip or xsel)")
	}
	return nil
}

func (c *clipboardBackend) Inject(ctx context.Context, text string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.write(text) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clipboard write failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("clipboard write: %w", ctx.Err())
	}
}
