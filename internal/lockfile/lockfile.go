// Package lockfile guards a RentBot state directory against concurrent instances.
//
// The lock is an flock(2) on a file inside the state directory, so the kernel
// drops it when the process exits, however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "rentbot.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Info is the owner metadata written into the lock file.
type Info struct {
	PID       int
	StartedAt time.Time
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir.
// A *LockError is returned when another process already holds it.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if info, ok := ReadInfo(lockPath); ok {
			lockErr.Holder = &info
		}
		slog.Error("lockfile.AcquireLock: state directory already locked", "lock_path", lockPath, "error", err)
		return nil, lockErr
	}

	// Only truncate once the lock is ours, otherwise we would wipe the holder's info.
	if err := file.Truncate(0); err != nil {
		release(file)
		return nil, fmt.Errorf("failed to truncate lock file %s: %w", lockPath, err)
	}
	info := Info{PID: os.Getpid(), StartedAt: time.Now().UTC()}
	if _, err := fmt.Fprintf(file, "pid=%d\nstarted=%s\n", info.PID, info.StartedAt.Format(time.RFC3339)); err != nil {
		release(file)
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.AcquireLock: sync failed", "lock_path", lockPath, "error", err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	release(l.file)
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

func release(file *os.File) {
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("lockfile: failed to release flock", "error", err)
	}
	file.Close()
}

// ReadInfo parses the owner metadata of an existing lock file.
func ReadInfo(lockPath string) (Info, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Info{}, false
	}
	defer f.Close()

	var info Info
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				info.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = ts
			}
		}
	}
	return info, info.PID > 0
}

// LockError reports that the state directory is held by another process.
type LockError struct {
	LockPath string
	Holder   *Info
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another RentBot instance is using this state directory (lock file: %s)", e.LockPath)
	if e.Holder != nil {
		state := "not running, stale lock"
		if processRunning(e.Holder.PID) {
			state = "running"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Holder.PID, state)
	}
	b.WriteString("; remove the lock file only if no other instance is running")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// processRunning checks pid with signal 0.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
