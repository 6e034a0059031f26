// Package config implements the atomically-swapped debug-level snapshot
// SPEC_FULL.md §4.9 describes: a Store watches a single debug-flag file
// (spec.md §6 "Persistent state") via inotify and republishes a parsed
// Snapshot on every write, so every read site takes a consistent, torn-free
// copy with store.Load() rather than racing a mutable map.
//
// Grounded on the teacher's atomic-pointer configuration-swap idiom
// (cubed's own logger.go SetLogger/Logger) and on internal/drmioctl's
// netlink-monitor style of wrapping a raw fd for epoll registration.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Snapshot is one consistent, immutable view of the per-subsystem debug
// levels (SPEC_FULL.md §3 "DebugConfig snapshot").
type Snapshot struct {
	Subsystems map[string]slog.Level
}

// Level returns the configured level for subsystem, or def if the
// subsystem has no entry.
func (s *Snapshot) Level(subsystem string, def slog.Level) slog.Level {
	if s == nil {
		return def
	}
	if l, ok := s.Subsystems[subsystem]; ok {
		return l
	}
	return def
}

// Store holds the current Snapshot behind an atomic.Pointer and watches
// its backing file for changes.
type Store struct {
	path string
	fd   int // inotify instance fd, -1 if the watch could not be armed
	wd   int

	ptr atomic.Pointer[Snapshot]
}

// Open reads path once to build the initial Snapshot and arms an inotify
// watch on its parent directory (watching the directory rather than the
// file survives editors that replace-by-rename). A missing file is not an
// error: it simply yields an empty Snapshot until one is created.
func Open(path string) (*Store, error) {
	s := &Store{path: path, fd: -1, wd: -1}
	s.ptr.Store(parseFile(path))

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return s, fmt.Errorf("config: inotify_init1: %w", err)
	}
	dir := dirOf(path)
	wd, err := unix.InotifyAddWatch(fd, dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO|unix.IN_CREATE)
	if err != nil {
		unix.Close(fd)
		return s, fmt.Errorf("config: inotify_add_watch %s: %w", dir, err)
	}
	s.fd, s.wd = fd, wd
	return s, nil
}

// Fd returns the inotify instance descriptor, for epoll registration;
// returns -1 on a nil Store or if the watch could not be armed (Open then
// returns the Store together with its error, and the Snapshot stays the
// one read at startup).
func (st *Store) Fd() int {
	if st == nil {
		return -1
	}
	return st.fd
}

// Load returns the current Snapshot. Safe for concurrent use; callers
// should take a local copy at the start of a handler rather than hold the
// pointer across a yield (SPEC_FULL.md §4.9).
func (st *Store) Load() *Snapshot { return st.ptr.Load() }

// HandleReadable drains pending inotify events and, if any named this
// Store's file, reparses it and atomically swaps in the new Snapshot.
func (st *Store) HandleReadable() error {
	if st.fd < 0 {
		return nil
	}
	buf := make([]byte, 4096)
	changed := false
	for {
		n, err := unix.Read(st.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return fmt.Errorf("config: read inotify fd: %w", err)
		}
		if n == 0 {
			break
		}
		changed = true
		_ = buf[:n] // event payloads (name, cookie) are not needed: any event on the watched directory triggers a reparse
	}
	if changed {
		st.ptr.Store(parseFile(st.path))
	}
	return nil
}

// Close releases the inotify instance.
func (st *Store) Close() error {
	if st.fd < 0 {
		return nil
	}
	return unix.Close(st.fd)
}

// parseFile parses "subsystem=level" lines (one per line, '#'-prefixed
// comments and blank lines ignored) into a Snapshot. A missing or
// unreadable file yields an empty, non-nil Snapshot.
func parseFile(path string) *Snapshot {
	snap := &Snapshot{Subsystems: make(map[string]slog.Level)}
	data, err := os.ReadFile(path)
	if err != nil {
		return snap
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, levelStr, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(levelStr))); err != nil {
			continue
		}
		snap.Subsystems[strings.TrimSpace(name)] = level
	}
	return snap
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}
