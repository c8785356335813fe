// Package lockfile guards a ReEngage state directory against a second running instance.
//
// The lock is an flock(2) on a file inside the directory, so the kernel drops it when the
// holding process exits, cleanly or not. The file records who holds it for diagnostics.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created in the state directory.
const FileName = "reengage.lock"

// ErrHeld is returned (wrapped in *HeldError) when another process holds the lock.
var ErrHeld = errors.New("state directory is locked by another instance")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Addr    string
}

func (h Holder) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", h.PID)
	if !h.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", h.Started.UTC().Format(time.RFC3339))
	}
	if h.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", h.Addr)
	}
	return b.String()
}

// parseHolder reads the key=value lines written by encode. Unknown keys and malformed
// values are ignored.
func parseHolder(content string) Holder {
	var h Holder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				h.Started = t
			}
		case "addr":
			h.Addr = val
		}
	}
	return h
}

// HeldError reports a lock held by another process.
type HeldError struct {
	Path    string
	Holder  Holder
	Running bool
	Cause   error
}

func (e *HeldError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another ReEngage instance is using this state directory (lock file %s)", e.Path)
	if e.Holder.PID > 0 {
		state := "running"
		if !e.Running {
			state = "not running, stale lock"
		}
		fmt.Fprintf(&b, "; holder pid %d (%s)", e.Holder.PID, state)
	}
	if !e.Holder.Started.IsZero() {
		fmt.Fprintf(&b, ", started %s", e.Holder.Started.Format(time.RFC3339))
	}
	if e.Holder.Addr != "" {
		fmt.Fprintf(&b, ", serving %s", e.Holder.Addr)
	}
	return b.String()
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

func (e *HeldError) Unwrap() error { return e.Cause }

// Lock is an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire creates stateDir if needed and takes its lock without blocking. The holder
// record is written with the current pid; start time and addr come from self.
func Acquire(stateDir string, self Holder) (*Lock, error) {
	path := filepath.Join(stateDir, FileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder record of a running instance before flock fails.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		held := &HeldError{Path: path, Cause: err}
		if data, rerr := os.ReadFile(path); rerr == nil {
			held.Holder = parseHolder(string(data))
			held.Running = held.Holder.PID > 0 && processRunning(held.Holder.PID)
		}
		slog.Error("lockfile.Acquire: lock held", "path", path, "holderPID", held.Holder.PID, "running", held.Running)
		return nil, held
	}

	self.PID = os.Getpid()
	if err := writeHolder(file, self); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.Acquire: state directory locked", "path", path, "pid", self.PID)
	return &Lock{file: file, path: path}, nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(h.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeHolder: sync failed", "path", f.Name(), "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "path", l.path)
	return errors.Join(errs...)
}

// processRunning sends signal 0, which checks for existence without delivering anything.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
