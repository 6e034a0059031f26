package clientagent

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/compositor"
)

// SocketPath builds the well-known per-seat socket path spec.md §6
// names: "${SERVER_PREFIX}/${SERVER_NAME}-<seat>", with XDG_RUNTIME_DIR
// and "cubed" as the teacher-idiomatic fallback defaults.
func SocketPath(seat string) string {
	prefix := os.Getenv("SERVER_PREFIX")
	if prefix == "" {
		prefix = os.Getenv("XDG_RUNTIME_DIR")
	}
	if prefix == "" {
		prefix = "/run"
	}
	name := os.Getenv("SERVER_NAME")
	if name == "" {
		name = "cubed"
	}
	return filepath.Join(prefix, fmt.Sprintf("%s-%s", name, seat))
}

// Listener accepts client connections on a single UNIX-domain socket and
// hands each one to NewAgent (spec.md §4.8).
type Listener struct {
	fd   int
	path string
	cb   compositor.ClientCallbacks
}

// Listen opens a non-blocking UNIX-domain socket at path, removing any
// stale socket file left by a previous instance.
func Listen(path string, cb compositor.ClientCallbacks) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("clientagent: socket: %w", err)
	}
	_ = os.Remove(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("clientagent: bind %s: %w", path, err)
	}
	const backlog = 16
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("clientagent: listen: %w", err)
	}
	return &Listener{fd: fd, path: path, cb: cb}, nil
}

// Fd returns the listening socket descriptor, for epoll registration.
func (l *Listener) Fd() int { return l.fd }

// Close shuts down the listening socket and removes its path.
func (l *Listener) Close() error {
	_ = os.Remove(l.path)
	return unix.Close(l.fd)
}

// Accept accepts every connection currently pending (looping until
// EAGAIN, spec.md §5's non-blocking I/O discipline) and wraps each as an
// Agent.
func (l *Listener) Accept() ([]*Agent, error) {
	var agents []*Agent
	for {
		connFd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return agents, nil
			}
			return agents, fmt.Errorf("clientagent: accept: %w", err)
		}
		cubed.Logger().Info("clientagent: client connected", "fd", connFd)
		agents = append(agents, NewAgent(connFd, l.cb))
	}
}
