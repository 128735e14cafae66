package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Status represents the installation status of a dependency
type Status struct {
	Installed bool
	Path      string
	Version   string
}

// LibraryDirs are searched for the native engine library.
var LibraryDirs = []string{
	"/usr/local/lib",
	"/usr/lib",
	"/usr/lib64",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
}

func checkBinary(name string, versionArgs ...string) Status {
	path, err := exec.LookPath(name)
	if err != nil {
		return Status{Installed: false}
	}

	status := Status{
		Installed: true,
		Path:      path,
	}

	output, err := exec.Command(path, versionArgs...).CombinedOutput()
	if err == nil {
		// first non-empty line carries the version
		for _, line := range strings.Split(string(output), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				status.Version = line
				break
			}
		}
	}

	return status
}

// CheckPwRecord checks for pw-record, used by the pipewire capture backend
func CheckPwRecord() Status {
	return checkBinary("pw-record", "--version")
}

// CheckPwCli checks for pw-cli, used to probe the pipewire server
func CheckPwCli() Status {
	return checkBinary("pw-cli", "--version")
}

// CheckLibvosk looks for libvosk.so in LD_LIBRARY_PATH and LibraryDirs.
func CheckLibvosk() Status {
	var dirs []string
	if env := os.Getenv("LD_LIBRARY_PATH"); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}
	dirs = append(dirs, LibraryDirs...)
	return findLibrary("libvosk.so", dirs)
}

func findLibrary(name string, dirs []string) Status {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return Status{Installed: true, Path: path}
		}
	}
	return Status{Installed: false}
}
