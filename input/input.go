// Package input implements the InputSource collaborator spec.md §4.7
// summarizes: it opens evdev character devices, reads raw kernel
// input_event records, and classifies each into one of
// {raw-input-event, GUI-input-message} for the compositor to forward.
// Acceleration curves, gesture synthesis, and touch calibration are named
// out of scope by the Non-goals; this package only classifies and
// forwards.
//
// Grounded on original_source/server/cube_compositor.c's device-capability
// probe (EVIOCGBIT classification into mouse/keyboard/joystick/touch) and
// its per-event dispatch (event_proc's EV_KEY/EV_REL/EV_ABS handling), and
// on internal/drmioctl's ioctl-request-encoding idiom for the raw syscalls.
package input

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux evdev event types (linux/input-event-codes.h), kept local since
// golang.org/x/sys/unix does not export them.
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvRel = 0x02
	EvAbs = 0x03
)

// Relative and absolute axis codes this package interprets.
const (
	RelX = 0x00
	RelY = 0x01

	AbsX = 0x00
	AbsY = 0x01
)

// Key/button codes the GUI-message path reports (spec.md §4.7 "the
// top-view's client ... forwards GUI messages").
const (
	BtnLeft   = 0x110
	BtnRight  = 0x111
	BtnMiddle = 0x112
)

// MessageKind distinguishes the handful of GUI-input-message shapes the
// compositor reacts to directly (spec.md §4.7 "updates the global cursor
// position ... schedules a repaint").
type MessageKind int

const (
	MessageMotion MessageKind = iota
	MessageButton
	MessageKey
)

// GUIMessage is the compositor-facing projection of a raw event, built only
// for event types the top-view's client or the compositor's own cursor
// tracking cares about.
type GUIMessage struct {
	Kind    MessageKind
	DX, DY  int32 // MessageMotion: relative motion since the last message
	Code    uint16
	Pressed bool // MessageButton/MessageKey: true on press, false on release
}

// RawInputEvent is the raw-input-event projection forwarded verbatim to
// RAW_INPUT-capable clients (spec.md §4.7).
type RawInputEvent struct {
	Device string
	Time   time.Time
	Type   uint16
	Code   uint16
	Value  int32
}

// Event pairs one raw kernel event with the GUI message derived from it,
// if any (nil for event types with no GUI-level meaning, e.g. EV_SYN).
type Event struct {
	Raw RawInputEvent
	GUI *GUIMessage
}

// rawInputEventSize is sizeof(struct input_event) on a 64-bit kernel:
// struct timeval (2x8 bytes) + u16 type + u16 code + s32 value, all
// naturally aligned to 24 bytes with no trailing pad.
const rawInputEventSize = 24

// decodeRaw parses one input_event record from b (exactly
// rawInputEventSize bytes).
func decodeRaw(device string, b []byte) RawInputEvent {
	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	usec := int64(binary.LittleEndian.Uint64(b[8:16]))
	return RawInputEvent{
		Device: device,
		Time:   time.Unix(sec, usec*1000),
		Type:   binary.LittleEndian.Uint16(b[16:18]),
		Code:   binary.LittleEndian.Uint16(b[18:20]),
		Value:  int32(binary.LittleEndian.Uint32(b[20:24])),
	}
}

// classify builds the GUI-level projection of a raw event, mirroring
// event_proc's EV_REL/EV_KEY switch (original_source/server/cube_compositor.c).
// relState accumulates the (dx, dy) pair a motion event's two EV_REL/EV_SYN
// records are split across on the wire.
func classify(raw RawInputEvent, relState *relAccumulator) *GUIMessage {
	switch raw.Type {
	case EvRel:
		switch raw.Code {
		case RelX:
			relState.dx += raw.Value
			relState.dirty = true
		case RelY:
			relState.dy += raw.Value
			relState.dirty = true
		}
		return nil
	case EvSyn:
		if !relState.dirty {
			return nil
		}
		msg := &GUIMessage{Kind: MessageMotion, DX: relState.dx, DY: relState.dy}
		relState.dx, relState.dy, relState.dirty = 0, 0, false
		return msg
	case EvKey:
		switch raw.Code {
		case BtnLeft, BtnRight, BtnMiddle:
			return &GUIMessage{Kind: MessageButton, Code: raw.Code, Pressed: raw.Value != 0}
		default:
			return &GUIMessage{Kind: MessageKey, Code: raw.Code, Pressed: raw.Value != 0}
		}
	default:
		return nil
	}
}

// relAccumulator coalesces the EV_REL(X)/EV_REL(Y)/EV_SYN triple the
// kernel emits for one mouse-motion sample into a single GUIMessage.
type relAccumulator struct {
	dx, dy int32
	dirty  bool
}

// Device is one opened evdev character device.
type Device struct {
	Path string
	Name string

	fd       int
	relState relAccumulator
}

// OpenDevice opens an evdev node non-blockingly and reads its name for
// logging (spec.md §4.7's InputSource "opens evdev devices via udev").
func OpenDevice(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("input: open %s: %w", path, err)
	}
	name := deviceName(fd)
	return &Device{Path: path, Name: name, fd: fd}, nil
}

// Fd returns the device descriptor, for epoll registration.
func (d *Device) Fd() int { return d.fd }

// Close releases the device.
func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadEvents reads and classifies every input_event record currently
// available (non-blocking, looping until EAGAIN per spec.md §5).
func (d *Device) ReadEvents() ([]Event, error) {
	var events []Event
	buf := make([]byte, rawInputEventSize*64)
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return events, nil
			}
			return events, fmt.Errorf("input: read %s: %w", d.Path, err)
		}
		if n <= 0 {
			return events, nil
		}
		for off := 0; off+rawInputEventSize <= n; off += rawInputEventSize {
			raw := decodeRaw(d.Path, buf[off:off+rawInputEventSize])
			events = append(events, Event{Raw: raw, GUI: classify(raw, &d.relState)})
		}
	}
}

// evIoctlType is the 'E' ioctl type byte evdev request codes use
// (linux/input.h _IOC(_IOC_READ, 'E', nr, size)).
const evIoctlType = 0x45

const nrGetName = 0x06 // EVIOCGNAME's ioctl number

func iocRead(nr, size uintptr) uintptr {
	const dirRead = 2
	return (dirRead << 30) | (evIoctlType << 8) | nr | (size << 16)
}

// deviceName issues EVIOCGNAME to label log output; failures are
// non-fatal (an empty name is still usable).
func deviceName(fd int) string {
	buf := make([]byte, 256)
	req := iocRead(nrGetName, uintptr(len(buf)))
	if err := ioctl(fd, req, buf); err != nil {
		return ""
	}
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[:end])
}

func ioctl(fd int, req uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// Source owns every opened input device and dispatches their events
// (spec.md §4.7).
type Source struct {
	devices map[int]*Device // keyed by fd
}

// NewSource constructs an empty Source.
func NewSource() *Source { return &Source{devices: make(map[int]*Device)} }

// Scan opens every /dev/input/event* node (spec.md §4.7 "opens evdev
// devices via udev"; udev is only needed for hot-plugged device discovery,
// which hotplugState's connector rescan pattern could extend to evdev
// nodes the same way it already does for DRM connectors).
func (s *Source) Scan() error {
	matches, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return fmt.Errorf("input: glob: %w", err)
	}
	for _, path := range matches {
		dev, err := OpenDevice(path)
		if err != nil {
			continue
		}
		s.devices[dev.Fd()] = dev
	}
	return nil
}

// Add registers an already-opened device, e.g. one discovered by a udev
// hot-plug notification rather than the initial Scan.
func (s *Source) Add(d *Device) { s.devices[d.Fd()] = d }

// Remove closes and unregisters the device owning fd.
func (s *Source) Remove(fd int) {
	if d, ok := s.devices[fd]; ok {
		d.Close()
		delete(s.devices, fd)
	}
}

// Fds returns every device descriptor currently open, for epoll
// registration.
func (s *Source) Fds() []int {
	fds := make([]int, 0, len(s.devices))
	for fd := range s.devices {
		fds = append(fds, fd)
	}
	return fds
}

// Dispatch reads and classifies every pending event on fd.
func (s *Source) Dispatch(fd int) ([]Event, error) {
	d, ok := s.devices[fd]
	if !ok {
		return nil, fmt.Errorf("input: unknown device fd %d", fd)
	}
	return d.ReadEvents()
}

// Close releases every open device.
func (s *Source) Close() {
	for _, d := range s.devices {
		d.Close()
	}
	s.devices = make(map[int]*Device)
}
