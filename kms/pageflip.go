package kms

import (
	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/internal/drmioctl"
)

// OnFlip registers the callback invoked once per output after its
// page-flip event is processed (spec.md §4.1: "emit the Output flipped
// signal ... call the compositor's schedule-next-repaint").
func (s *Scanout) OnFlip(fn func(pipeIndex int, sec, usec uint32)) {
	s.onFlip = fn
}

// HandleDeviceEvents reads and processes pending KMS events from the
// device fd (called by the compositor's epoll loop when DeviceFd is
// readable).
func (s *Scanout) HandleDeviceEvents() error {
	buf := make([]byte, 4096)
	n, err := readFd(int(s.dev.Fd()), buf)
	if err != nil {
		return err
	}
	for _, ev := range drmioctl.ReadEvents(buf[:n]) {
		s.processFlip(ev)
	}
	return nil
}

func (s *Scanout) processFlip(ev drmioctl.FlipEvent) {
	pipeIndex := int(ev.UserData)
	p, ok := s.pipelines[pipeIndex]
	if !ok {
		return
	}
	p.pending = false

	for _, st := range p.current {
		if st.Buf.ClearDirty(pipeIndex) {
			st.Buf.Flipped.Emit(buffer.FlipEvent{OutputIndex: pipeIndex, Sec: ev.Sec, USec: ev.USec})
		}
	}

	for _, st := range p.last {
		st.Buf.Unref()
	}
	p.last = nil

	cubed.Logger().Debug("kms: page-flip complete", "pipeline", pipeIndex, "sec", ev.Sec, "usec", ev.USec)

	if s.onFlip != nil {
		s.onFlip(pipeIndex, ev.Sec, ev.USec)
	}
}

// AddBufferFlipNotify registers a listener on b's Flipped signal, a thin
// pass-through kept to satisfy the Scanout contract named in spec.md
// §4.1 alongside the buffer-owned signal it wraps.
func (s *Scanout) AddBufferFlipNotify(b *buffer.Buffer, fn func(buffer.FlipEvent)) {
	b.Flipped.Add(fn)
}

// AddBufferCompleteNotify registers a listener on b's Completed signal.
func (s *Scanout) AddBufferCompleteNotify(b *buffer.Buffer, fn func(*buffer.Buffer)) {
	b.Completed.Add(fn)
}
