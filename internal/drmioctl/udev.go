package drmioctl

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// UdevMonitor listens on the kernel's uevent netlink socket for DRM
// hot-plug notifications ("change" events on a drm_minor subsystem
// device), the trigger for the compositor's debounced connector rescan
// (spec.md §4.6).
type UdevMonitor struct {
	fd int
}

// NewUdevMonitor opens a NETLINK_KOBJECT_UEVENT socket bound to the kernel
// multicast group, the same source original_source/server/drm.c polls for
// hotplug events.
func NewUdevMonitor() (*UdevMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("drmioctl: netlink socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("drmioctl: netlink bind: %w", err)
	}
	return &UdevMonitor{fd: fd}, nil
}

// Fd returns the socket descriptor, for epoll registration.
func (m *UdevMonitor) Fd() int { return m.fd }

// Close releases the socket.
func (m *UdevMonitor) Close() error { return unix.Close(m.fd) }

// Event is a parsed udev uevent: its action plus the raw KEY=VALUE
// properties the kernel attaches (SUBSYSTEM, DEVTYPE, HOTPLUG, ...).
type Event struct {
	Action string
	Props  map[string]string
}

// IsDRMHotplug reports whether the event is a DRM connector hotplug
// notification (SUBSYSTEM=drm, HOTPLUG=1) as opposed to an unrelated
// device's uevent sharing the same multicast group.
func (e Event) IsDRMHotplug() bool {
	return e.Props["SUBSYSTEM"] == "drm" && e.Props["HOTPLUG"] == "1"
}

// ReadEvent reads and parses a single uevent datagram. The wire format is
// a "libudev" header ("libudev\x00" + 8 bytes) followed by NUL-separated
// "ACTION@DEVPATH" then NUL-separated KEY=VALUE pairs; a raw kernel uevent
// (no seqnum prefix) has the same KEY=VALUE tail starting right after the
// first NUL-terminated "ACTION@DEVPATH" record, which is all cubed parses.
func (m *UdevMonitor) ReadEvent() (Event, error) {
	buf := make([]byte, 8192)
	n, _, err := unix.Recvfrom(m.fd, buf, 0)
	if err != nil {
		return Event{}, err
	}
	buf = buf[:n]

	// Skip an optional "libudev\x00" framing header some distros prepend.
	if strings.HasPrefix(string(buf), "libudev") {
		if idx := indexByte(buf, 0); idx >= 0 && idx+40 <= len(buf) {
			buf = buf[idx+40:]
		}
	}

	parts := splitNUL(buf)
	ev := Event{Props: make(map[string]string)}
	for i, p := range parts {
		if i == 0 {
			if at := strings.IndexByte(p, '@'); at >= 0 {
				ev.Action = p[:at]
			} else {
				ev.Action = p
			}
			continue
		}
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			ev.Props[p[:eq]] = p[eq+1:]
		}
	}
	return ev, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func splitNUL(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}
