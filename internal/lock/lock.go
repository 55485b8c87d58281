// Package lock guarantees a single daemon per profile with an flock on
// <profile dir>/LOCK. The file records the holder's pid, profile and start
// time so other processes can report who owns the profile.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Profile string
	Since   time.Time
}

// LockHeldError is returned when another process holds the profile lock.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Holder.Since.IsZero() {
		return fmt.Sprintf("profile lock held by pid %d (%s)", e.Holder.PID, e.Path)
	}
	return fmt.Sprintf("profile lock held by pid %d since %s (%s)",
		e.Holder.PID, e.Holder.Since.Local().Format(time.DateTime), e.Path)
}

// Lock is an acquired profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock of profileDir, creating the directory if
// needed. Returns *LockHeldError if another process already holds it.
func Acquire(profileDir string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	path := filepath.Join(profileDir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		h, _ := Inspect(profileDir)
		_ = f.Close()
		return nil, &LockHeldError{Holder: h, Path: path}
	}

	h := Holder{PID: os.Getpid(), Profile: filepath.Base(profileDir), Since: time.Now().UTC()}
	if err := writeHolder(f, h); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nprofile=%s\ntime=%s\n", h.PID, h.Profile, h.Since.Format(time.RFC3339))
	return err
}

// Release removes the lock file and drops the lock. Safe to call twice and
// on a nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Inspect reads the holder recorded in profileDir's lock file. ok is false
// when there is no lock file or it names no pid.
func Inspect(profileDir string) (h Holder, ok bool) {
	data, err := os.ReadFile(filepath.Join(profileDir, fileName))
	if err != nil {
		return Holder{}, false
	}
	h = parseHolder(string(data))
	return h, h.PID > 0
}

func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch k {
		case "pid":
			h.PID, _ = strconv.Atoi(v)
		case "profile":
			h.Profile = v
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, v)
		}
	}
	return h
}

// Held reports whether a live process holds profileDir's lock, probing the
// flock itself so a lock file left behind by a crash reads as free.
func Held(profileDir string) (Holder, bool) {
	f, err := os.Open(filepath.Join(profileDir, fileName))
	if err != nil {
		return Holder{}, false
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false
	}
	h, _ := Inspect(profileDir)
	return h, true
}
