//go:build !windows

package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestAcquireWriteRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run", "upstream.pid")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pidfile not created: %v", err)
	}
	if got := ReadPid(path); got != 0 {
		t.Fatalf("empty pidfile should read as 0, got %d", got)
	}
	if err := h.Write(4321); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "4321\n" {
		t.Fatalf("unexpected content %q", string(b))
	}
	if got := ReadPid(path); got != 4321 {
		t.Fatalf("ReadPid = %d, want 4321", got)
	}
	if err := h.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pidfile still present after Remove: %v", err)
	}
	// idempotent
	if err := h.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestWriteOnlyOnce(t *testing.T) {
	h, err := Acquire(filepath.Join(t.TempDir(), "x.pid"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Remove() }()
	if err := h.Write(10); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err = h.Write(11)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite on second write, got %v", err)
	}
	if got := ReadPid(h.Path()); got != 10 {
		t.Fatalf("second write must not change record, got %d", got)
	}
}

func TestWriteRejectsInvalidPid(t *testing.T) {
	h, err := Acquire(filepath.Join(t.TempDir(), "x.pid"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Remove() }()
	if err := h.Write(0); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite for pid 0, got %v", err)
	}
}

func TestAcquireFailsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Write(777); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err = Acquire(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	var le *LockedError
	if !errors.As(err, &le) || le.Pid != 777 {
		t.Fatalf("expected LockedError with pid 777, got %#v", err)
	}
	// the holder's record is untouched
	if got := ReadPid(path); got != 777 {
		t.Fatalf("record clobbered by failed Acquire: %d", got)
	}

	if err := h.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	h2, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = h2.Remove()
}

func TestAcquireTruncatesStaleRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	if err := os.WriteFile(path, []byte("999\n"), 0o600); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Remove() }()
	if got := ReadPid(path); got != 0 {
		t.Fatalf("stale pid should be cleared, got %d", got)
	}
}

func TestCloseWithoutRemovingKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Write(55); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.CloseWithoutRemoving(); err != nil {
		t.Fatalf("CloseWithoutRemoving: %v", err)
	}
	if got := ReadPid(path); got != 55 {
		t.Fatalf("file should survive close, got pid %d", got)
	}
	if h.File() != nil {
		t.Fatalf("File should be nil after close")
	}
	if err := h.Write(56); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Remove on a closed handle is a no-op; the file stays for its owner.
	if err := h.Remove(); err != nil {
		t.Fatalf("Remove on closed handle: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed by non-owner: %v", err)
	}
}

func TestInheritedCopyDoesNotReleaseLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Remove() }()

	dup, err := dupFile(h.File())
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	child, err := Inherit(path, dup)
	if err != nil {
		t.Fatalf("Inherit: %v", err)
	}
	if err := child.CloseWithoutRemoving(); err != nil {
		t.Fatalf("child close: %v", err)
	}
	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("lock must still be held by the owner, got %v", err)
	}
}

func TestReadPid(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content *string
		want    int
	}{
		{name: "missing", content: nil, want: 0},
		{name: "empty", content: strPtr(""), want: 0},
		{name: "garbage", content: strPtr("abc\n"), want: 0},
		{name: "negative", content: strPtr("-3\n"), want: 0},
		{name: "wraps to minus one", content: strPtr("4294967295\n"), want: 0},
		{name: "beyond int32", content: strPtr("99999999999\n"), want: 0},
		{name: "int32 max", content: strPtr("2147483647\n"), want: 2147483647},
		{name: "plain", content: strPtr("12345"), want: 12345},
		{name: "newline", content: strPtr("12345\n"), want: 12345},
		{name: "padded", content: strPtr("  42  \nextra\n"), want: 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(dir, tc.name+".pid")
			if tc.content != nil {
				if err := os.WriteFile(p, []byte(*tc.content), 0o600); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			if got := ReadPid(p); got != tc.want {
				t.Fatalf("ReadPid = %d, want %d", got, tc.want)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func dupFile(f *os.File) (uintptr, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return 0, err
	}
	return uintptr(fd), nil
}
