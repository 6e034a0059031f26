// loop.go implements the single-threaded event loop spec.md §5 describes:
// one blocking dispatch call, parameterized by the next timer deadline,
// multiplexing the DRM fd, the udev hot-plug fd, client connections, and
// input devices. Built on golang.org/x/sys/unix.EpollWait, the pack's own
// choice for low-level event multiplexing (internal/drmioctl already uses
// raw syscalls in the same idiom).
package compositor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/input"
	"github.com/cube-wm/cubed/output"
)

// ClientConn is the narrow contract the event loop needs from one
// connected client's IPC endpoint (satisfied by clientagent.Agent). Kept
// local so compositor never imports clientagent, which itself imports
// compositor to reach ClientCallbacks.
type ClientConn interface {
	Fd() int
	Closed() bool
	HandleReadable() error
	HandleWritable() error
	HasPendingWrites() bool
}

// ClientListener is the narrow contract the event loop needs from the
// client-connection acceptor (satisfied by an adapter over
// clientagent.Listener; see cmd/cubed).
type ClientListener interface {
	Fd() int
	Accept() ([]ClientConn, error)
}

// configStore is the narrow slice of config.Store the loop needs, kept
// local for the same reason as ClientConn/ClientListener.
type configStore interface {
	Fd() int
	HandleReadable() error
}

// fdKind distinguishes registered descriptors so Run's dispatch switch
// knows which collaborator owns a ready fd.
type fdKind int

const (
	kindDRM fdKind = iota
	kindUdev
	kindListener
	kindClient
	kindInput
	kindConfig
	kindExtra
)

type fdEntry struct {
	kind  fdKind
	conn  ClientConn // only set for kindClient
	extra func()     // only set for kindExtra
}

// RegisterExtra registers an arbitrary readable fd not otherwise known to
// Loop (e.g. a signalfd for graceful shutdown), invoking onReadable each
// time it becomes readable.
func (l *Loop) RegisterExtra(fd int, onReadable func()) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("compositor: EpollCtl add %d: %w", fd, err)
	}
	l.entries[fd] = &fdEntry{kind: kindExtra, extra: onReadable}
	return nil
}

// Loop drives one compositor's event dispatch: DRM/udev fds owned by
// Scanout, client connections accepted through listener, and input device
// fds owned by in.
type Loop struct {
	c        *Compositor
	epfd     int
	listener ClientListener
	entries  map[int]*fdEntry
	input    *input.Source
	cfg      configStore
}

// NewLoop constructs a Loop bound to c, registering the descriptors already
// known at startup (DRM, udev, the client listener, every input device).
// listener, in, and cfg may be nil to run with that collaborator absent.
func NewLoop(c *Compositor, listener ClientListener, in *input.Source, cfg configStore) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("compositor: EpollCreate1: %w", err)
	}
	l := &Loop{
		c:        c,
		epfd:     epfd,
		listener: listener,
		entries:  make(map[int]*fdEntry),
		input:    in,
		cfg:      cfg,
	}

	if err := l.register(int(c.Scanout.DeviceFd()), kindDRM, nil); err != nil {
		return nil, err
	}
	if err := l.register(c.Scanout.UdevFd(), kindUdev, nil); err != nil {
		return nil, err
	}
	if listener != nil {
		if err := l.register(listener.Fd(), kindListener, nil); err != nil {
			return nil, err
		}
	}
	if in != nil {
		for _, fd := range in.Fds() {
			if err := l.register(fd, kindInput, nil); err != nil {
				return nil, err
			}
		}
	}
	if cfg != nil && cfg.Fd() >= 0 {
		if err := l.register(cfg.Fd(), kindConfig, nil); err != nil {
			return nil, err
		}
	}

	c.Scanout.OnFlip(l.onFlipComplete)
	return l, nil
}

// onFlipComplete is Scanout's page-flip callback (spec.md §4.1 "emit the
// Output flipped signal"): it advances the named output's repaint state
// machine from WaitCompletion once the DRM event confirms the commit that
// submitScanout issued actually landed on screen.
func (l *Loop) onFlipComplete(pipeIndex int, sec, usec uint32) {
	o := l.c.outputByIndex(pipeIndex)
	if o == nil {
		return
	}
	flipTime := time.Unix(int64(sec), int64(usec)*1000)
	refresh := time.Duration(o.CurrentMode.RefreshNanos())
	o.OnFlipComplete(flipTime, refresh)
}

func (l *Loop) register(fd int, kind fdKind, conn ClientConn) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("compositor: EpollCtl add %d: %w", fd, err)
	}
	l.entries[fd] = &fdEntry{kind: kind, conn: conn}
	return nil
}

func (l *Loop) unregister(fd int) {
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(l.entries, fd)
}

// setClientWritable arms or disarms EPOLLOUT on a client connection's fd,
// matching HasPendingWrites so the loop never busy-spins on a fully
// drained write buffer.
func (l *Loop) setClientWritable(fd int, writable bool) {
	events := uint32(unix.EPOLLIN)
	if writable {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Close releases the epoll instance; registered fds are owned by their
// respective collaborators and are not closed here.
func (l *Loop) Close() error { return unix.Close(l.epfd) }

// Run blocks, dispatching events until stop reports true at the top of an
// iteration.
func (l *Loop) Run(stop func() bool) error {
	events := make([]unix.EpollEvent, 32)
	for !stop() {
		n, err := unix.EpollWait(l.epfd, events, l.nextTimeoutMillis())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("compositor: EpollWait: %w", err)
		}
		now := time.Now()
		for i := 0; i < n; i++ {
			l.dispatch(int(events[i].Fd), events[i].Events)
		}
		l.c.hotplug.Tick(now)
		l.runRepaints(now)
	}
	return nil
}

// nextTimeoutMillis computes EpollWait's timeout argument from the
// earliest pending repaint deadline or hot-plug debounce/retry deadline
// (spec.md §5 "the event loop's dispatch call is the sole blocking point,
// parameterized by the next timer deadline"); -1 blocks indefinitely when
// nothing is pending.
func (l *Loop) nextTimeoutMillis() int {
	now := time.Now()
	have := false
	var best time.Time

	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if !have || t.Before(best) {
			best, have = t, true
		}
	}

	for _, o := range l.c.Outputs() {
		if o.Status == output.Scheduled {
			consider(o.NextRepaint)
		}
	}
	if deadline, ok := l.c.hotplug.NextDeadline(); ok {
		consider(deadline)
	}

	if !have {
		return -1
	}
	d := best.Sub(now)
	if d <= 0 {
		return 0
	}
	const maxMillis = 1 << 30
	ms := d.Milliseconds()
	if ms > maxMillis {
		ms = maxMillis
	}
	return int(ms)
}

func (l *Loop) dispatch(fd int, events uint32) {
	entry, ok := l.entries[fd]
	if !ok {
		return
	}
	switch entry.kind {
	case kindDRM:
		if err := l.c.Scanout.HandleDeviceEvents(); err != nil {
			cubed.Logger().Warn("compositor: DRM event read failed", "err", err)
		}
	case kindUdev:
		ev, err := l.c.Scanout.ReadUdevEvent()
		if err != nil {
			cubed.Logger().Warn("compositor: udev event read failed", "err", err)
			return
		}
		l.c.hotplug.HandleUdevEvent(ev, time.Now())
	case kindListener:
		conns, err := l.listener.Accept()
		if err != nil {
			cubed.Logger().Warn("compositor: accept failed", "err", err)
			return
		}
		for _, conn := range conns {
			l.register(conn.Fd(), kindClient, conn)
		}
	case kindClient:
		l.dispatchClient(fd, entry.conn, events)
	case kindInput:
		l.dispatchInput(fd)
	case kindConfig:
		if err := l.cfg.HandleReadable(); err != nil {
			cubed.Logger().Warn("compositor: config watch read failed", "err", err)
		}
	case kindExtra:
		if entry.extra != nil {
			entry.extra()
		}
	}
}

func (l *Loop) dispatchClient(fd int, conn ClientConn, events uint32) {
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		if err := conn.HandleReadable(); err != nil {
			l.unregister(fd)
			return
		}
	}
	if events&unix.EPOLLOUT != 0 {
		if err := conn.HandleWritable(); err != nil {
			l.unregister(fd)
			return
		}
	}
	if conn.Closed() {
		l.unregister(fd)
		return
	}
	l.setClientWritable(fd, conn.HasPendingWrites())
}

// dispatchInput reads and classifies every pending event on an evdev fd
// and folds GUIMessage motion/button events into cursor tracking and
// repaint scheduling (spec.md §4.7 "updates the global cursor position ...
// schedules a repaint").
func (l *Loop) dispatchInput(fd int) {
	evs, err := l.input.Dispatch(fd)
	if err != nil {
		cubed.Logger().Debug("compositor: input read failed", "fd", fd, "err", err)
		return
	}
	for _, ev := range evs {
		if ev.GUI == nil {
			continue
		}
		l.c.HandleInputMessage(*ev.GUI)
	}
}

// runRepaints drives every output's repaint state machine one tick,
// assembling and submitting scanout tasks for every output whose deadline
// has arrived (spec.md §4.2).
func (l *Loop) runRepaints(now time.Time) {
	for _, o := range l.c.Outputs() {
		refresh := time.Duration(o.CurrentMode.RefreshNanos())

		if o.Status == output.StartFromIdle {
			o.RunIdleTask(now, now.Add(-refresh), refresh)
		}
		if o.Status == output.Scheduled && !o.NextRepaint.After(now) {
			o.OnTimerFire()
		}
		if o.Status != output.WaitCompletion {
			continue
		}
		l.submitScanout(o)
	}
}

// submitScanout issues the atomic commit for o; completion arrives later,
// asynchronously, as a DRM page-flip event dispatched through onFlipComplete
// (DoScanout submits with the nonblocking+page-flip-event flags, per
// kms/commit.go's DoScanout).
func (l *Loop) submitScanout(o *output.Output) {
	info, fbIDs, bufs := l.c.buildScanoutTasks(o)
	ps, err := l.c.Scanout.ScanoutDataAlloc(o.PipeIndex)
	if err != nil {
		cubed.Logger().Warn("compositor: scanout alloc failed", "pipe", o.PipeIndex, "err", err)
		return
	}
	if err := l.c.Scanout.FillScanoutData(ps, info, fbIDs, bufs); err != nil {
		cubed.Logger().Warn("compositor: fill scanout data failed", "pipe", o.PipeIndex, "err", err)
		return
	}
	if err := l.c.Scanout.DoScanout(ps); err != nil {
		cubed.Logger().Warn("compositor: do scanout failed", "pipe", o.PipeIndex, "err", err)
		return
	}
}
