//go:build !windows

package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrLocked is returned by Acquire when another process holds the pidfile.
	ErrLocked = errors.New("pidfile is locked by another process")
	// ErrWrite wraps any failure to persist the pid.
	ErrWrite = errors.New("failed to write pidfile")
	// ErrClosed is returned when operating on a released handle.
	ErrClosed = errors.New("pidfile handle is closed")
)

// LockedError reports which pid was on file when Acquire lost the lock race.
type LockedError struct {
	Path string
	Pid  int
}

func (e *LockedError) Error() string {
	if e.Pid > 0 {
		return fmt.Sprintf("pidfile %s is held by pid %d", e.Path, e.Pid)
	}
	return fmt.Sprintf("pidfile %s is held by another process", e.Path)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Handle is an open, exclusively locked pidfile.
// Only the process that will outlive the worker should call Write and Remove.
type Handle struct {
	path    string
	mu      sync.Mutex
	f       *os.File
	written bool
}

// Acquire creates path (and its parent directory) and takes an exclusive,
// non-blocking flock on it. The file is not truncated until the lock is held.
func Acquire(path string) (*Handle, error) {
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return nil, fmt.Errorf("create pidfile dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration
	f, err := os.OpenFile(clean, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pidfile %s: %w", clean, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &LockedError{Path: clean, Pid: ReadPid(clean)}
		}
		return nil, fmt.Errorf("lock pidfile %s: %w", clean, err)
	}
	// A previous owner that crashed may have left its pid behind.
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate pidfile %s: %w", clean, err)
	}
	return &Handle{path: clean, f: f}, nil
}

// Inherit rebuilds a handle from a descriptor passed down through exec.
// The lock travels with the open file description, so no flock is taken here.
func Inherit(path string, fd uintptr) (*Handle, error) {
	f := os.NewFile(fd, path)
	if f == nil {
		return nil, fmt.Errorf("invalid inherited pidfile descriptor %d", fd)
	}
	return &Handle{path: filepath.Clean(path), f: f}, nil
}

// Path returns the on-disk location of the pidfile.
func (h *Handle) Path() string { return h.path }

// File exposes the descriptor so it can be handed to a child via ExtraFiles.
// It returns nil once the handle has been released.
func (h *Handle) File() *os.File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f
}

// Write records pid. It may be called only once per handle.
func (h *Handle) Write(pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	}
	if h.written {
		return fmt.Errorf("%w: pid already recorded", ErrWrite)
	}
	if pid <= 0 {
		return fmt.Errorf("%w: invalid pid %d", ErrWrite, pid)
	}
	if err := h.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if _, err := h.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := h.f.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	h.written = true
	return nil
}

// CloseWithoutRemoving releases the descriptor and leaves the file on disk
// for whichever process owns its lifecycle.
func (h *Handle) CloseWithoutRemoving() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

// Remove unlinks the pidfile and then releases the lock.
// A file that is already gone is not an error.
func (h *Handle) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := os.Remove(h.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	h.f = nil
	return err
}

// ReadPid returns the pid recorded at path, or 0 when the file is missing,
// empty, or its first line is not a positive integer that fits in a pid_t.
func ReadPid(path string) int {
	// #nosec G304 -- path comes from operator configuration
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(b), "\n")
	// kill(2) truncates to 32 bits; 4294967295 would become -1
	pid, err := strconv.ParseInt(strings.TrimSpace(line), 10, 32)
	if err != nil || pid <= 0 {
		return 0
	}
	return int(pid)
}
