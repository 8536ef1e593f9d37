// Package pid guards against a second daemon instance via a PID file in the
// user runtime directory.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/apify/crawlee-sub000/internal/errors"
)

const pidFile = "autoscalerd.pid"

// Path returns the PID file location: the user runtime directory when
// available, the system temp directory otherwise.
func Path() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, pidFile)
	}

	return filepath.Join(os.TempDir(), pidFile)
}

// Write claims the PID file for the current process. It fails with
// ErrAlreadyRunning when the file names a live process; a stale or unreadable
// file is overwritten.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if ownerAlive(path) {
		return errFactory.New(errors.ErrAlreadyRunning)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// ownerAlive reports whether the PID file names a process that still responds
// to signal 0.
func ownerAlive(path string) bool {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Remove removes the PID file.
func Remove() error {
	errFactory := errors.New()
	path := Path()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
