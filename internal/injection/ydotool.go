package injection

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type ydotoolBackend struct{}

func NewYdotoolBackend() Backend {
	return &ydotoolBackend{}
}

func (y *ydotoolBackend) Name() string {
	return "ydotool"
}

func (y *ydotoolBackend) Available() error {
	if _, err := exec.LookPath("ydotool"); err != nil {
		return fmt.Errorf("ydotool not found: %w (install ydotool package)", err)
	}

	// without ydotoold installed, ydotool talks to uinput directly
	if _, err := exec.LookPath("ydotoold"); err != nil {
		return nil
	}

	sock := socketPath()
	if sock == "" {
		return fmt.Errorf("ydotoold socket not found, ensure ydotoold is running")
	}
	// ydotoold 1.0.4+ listens on a datagram socket, older releases on a stream one
	conn, err := net.Dial("unixgram", sock)
	if err != nil {
		conn, err = net.DialTimeout("unix", sock, 500*time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("ydotoold not responding at %s: %w", sock, err)
	}
	conn.Close()
	return nil
}

func socketPath() string {
	if sock := os.Getenv("YDOTOOL_SOCKET"); sock != "" {
		if _, err := os.Stat(sock); err == nil {
			return sock
		}
	}

	var paths []string
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, ".ydotool_socket"))
	}
	paths = append(paths,
		filepath.Join("/run/user", strconv.Itoa(os.Getuid()), ".ydotool_socket"),
		"/tmp/.ydotool_socket",
	)

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (y *ydotoolBackend) Inject(ctx context.Context, text string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ydotool", "type", "--", text).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ydotool failed: %w: %s", err, out)
	}
	return nil
}
