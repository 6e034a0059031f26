package compositor

import (
	"testing"
	"time"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/input"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
	"github.com/cube-wm/cubed/region"
	"github.com/cube-wm/cubed/renderer"
	"github.com/cube-wm/cubed/view"
)

// stubAgent is a view.ClientAgent recording every notification sent to it,
// standing in for clientagent.Agent so these tests never open a socket.
type stubAgent struct {
	completed []uint64
	replaced  []uint64
	flipped   []uint64
	inputs    []int
}

func (s *stubAgent) SendBufferComplete(bufID uint64) { s.completed = append(s.completed, bufID) }
func (s *stubAgent) SendBufferFlipped(bufID uint64, outputIndex int, sec, usec uint32) {
	s.flipped = append(s.flipped, bufID)
}
func (s *stubAgent) SendBufferReplace(bufID uint64) { s.replaced = append(s.replaced, bufID) }
func (s *stubAgent) SendInput(kind int, dx, dy int32, code uint16, pressed bool) {
	s.inputs = append(s.inputs, kind)
}

var _ view.ClientAgent = (*stubAgent)(nil)

// testPlane builds a single-output overlay plane for plane-allocator tests.
func testPlane(id uint32, zpos int, fmts ...buffer.PixelFormat) *kms.Plane {
	return &kms.Plane{ID: id, Zpos: zpos, Formats: fmts}
}

func testOutput(pipeIndex int, desktop region.Rect, primary *kms.Plane, free ...*kms.Plane) *output.Output {
	pipeline := &kms.Pipeline{Index: pipeIndex, Primary: primary, FreePlanes: free}
	o := output.New(pipeIndex, pipeline, output.WithDesktopRect(desktop))
	o.CrtcViewPort = region.NewRect(0, 0, desktop.Width(), desktop.Height())
	return o
}

func newTestCompositor(outs ...*output.Output) *Compositor {
	c := &Compositor{
		outputs:        make(map[int]*output.Output),
		views:          view.NewList(),
		renderTargets:  make(map[int]*rendererOutputAdapter),
		clientSurfaces: make(map[*view.Surface]*renderer.ClientSurface),
		cursorBuffers:  make(map[int][2]*buffer.Buffer),
		clients:        make(map[uint64]*clientState),
	}
	for _, o := range outs {
		c.outputs[o.PipeIndex] = o
	}
	return c
}

// TestCommitDMABUFReplacePending exercises the replace-pending protocol
// (spec.md §4.3 commit_dmabuf step 6, §8 testable property #6): a second
// direct-scanout buffer committed before the first one ever flipped must
// immediately acknowledge the first with COMMIT_OK and also send
// COMMIT_REPLACE, while the new buffer only gets its own COMMIT_OK.
func TestCommitDMABUFReplacePending(t *testing.T) {
	plane := testPlane(1, 0, buffer.PixelFormatXRGB8888)
	desktop := region.NewRect(0, 0, 1920, 1080)
	o := testOutput(0, desktop, nil, plane)

	c := newTestCompositor(o)
	agent := &stubAgent{}
	surf := view.NewSurface(agent, 1920, 1080)
	v := view.New(surf, desktop)
	v.DirectShow = true
	surf.View = v

	buf1 := buffer.New(buffer.Info{PixFmt: buffer.PixelFormatXRGB8888, Width: 1920, Height: 1080})
	surf.BufferPending = buf1
	if err := c.CommitDMABUF(surf); err != nil {
		t.Fatalf("first CommitDMABUF: %v", err)
	}
	if len(agent.completed) != 1 || agent.completed[0] != buf1.ID {
		t.Fatalf("expected one COMMIT_OK for buf1, got %v", agent.completed)
	}
	if len(agent.replaced) != 0 {
		t.Fatalf("unexpected COMMIT_REPLACE before a second commit: %v", agent.replaced)
	}

	buf2 := buffer.New(buffer.Info{PixFmt: buffer.PixelFormatXRGB8888, Width: 1920, Height: 1080})
	surf.BufferPending = buf2
	if err := c.CommitDMABUF(surf); err != nil {
		t.Fatalf("second CommitDMABUF: %v", err)
	}

	// The second commit sends COMMIT_OK for the superseded buf1 (the
	// replace acknowledgement), then COMMIT_OK again for buf2 itself.
	wantCompleted := []uint64{buf1.ID, buf1.ID, buf2.ID}
	if len(agent.completed) != len(wantCompleted) {
		t.Fatalf("expected COMMIT_OK sequence %v, got %v", wantCompleted, agent.completed)
	}
	for i, id := range wantCompleted {
		if agent.completed[i] != id {
			t.Fatalf("expected COMMIT_OK sequence %v, got %v", wantCompleted, agent.completed)
		}
	}
	if len(agent.replaced) != 1 || agent.replaced[0] != buf2.ID {
		t.Fatalf("expected COMMIT_REPLACE(buf2), got %v", agent.replaced)
	}
	if surf.BufferLast != buf2 {
		t.Fatalf("expected buf2 to become the new buffer_last pending a flip")
	}
}

// TestCommitDMABUFNoPlaneAvailable covers the rejection path (spec.md §4.3
// commit_dmabuf step 3): a view whose mask output has no compatible plane
// gets ErrNoPlaneAvailable and no acknowledgement at all.
func TestCommitDMABUFNoPlaneAvailable(t *testing.T) {
	desktop := region.NewRect(0, 0, 1920, 1080)
	o := testOutput(0, desktop, nil) // no primary, no free planes

	c := newTestCompositor(o)
	agent := &stubAgent{}
	surf := view.NewSurface(agent, 1920, 1080)
	v := view.New(surf, desktop)
	v.DirectShow = true
	surf.View = v

	surf.BufferPending = buffer.New(buffer.Info{PixFmt: buffer.PixelFormatXRGB8888, Width: 1920, Height: 1080})
	err := c.CommitDMABUF(surf)
	if err != ErrNoPlaneAvailable {
		t.Fatalf("expected ErrNoPlaneAvailable, got %v", err)
	}
	if len(agent.completed) != 0 {
		t.Fatalf("expected no acknowledgement on rejection, got %v", agent.completed)
	}
}

// TestRepaintDeadlineInvariant exercises invariant #7 (spec.md §8): after a
// repaint cycle completes, NextRepaint must stay within 1s of
// last_flip + refresh - 7ms slack, both when the idle task catches up
// immediately (mid-frame) and when it schedules ahead and later fires.
func TestRepaintDeadlineInvariant(t *testing.T) {
	refresh := 16666667 * time.Nanosecond // ~60Hz
	now := time.Now()

	t.Run("immediate", func(t *testing.T) {
		o := testOutput(0, region.NewRect(0, 0, 1920, 1080), nil)
		o.MarkDirty()
		o.RunIdleTask(now, now.Add(-2*refresh), refresh) // last vblank long past -> WaitCompletion
		if o.Status != output.WaitCompletion {
			t.Fatalf("expected WaitCompletion, got %v", o.Status)
		}
		o.OnFlipComplete(now, refresh)
		if !o.RepaintDeadlineOK(refresh) {
			t.Fatal("deadline invariant violated after immediate flip")
		}
	})

	t.Run("scheduled", func(t *testing.T) {
		o := testOutput(0, region.NewRect(0, 0, 1920, 1080), nil)
		o.MarkDirty()
		o.RunIdleTask(now, now.Add(-refresh/2), refresh) // mid-frame -> Scheduled
		if o.Status != output.Scheduled {
			t.Fatalf("expected Scheduled, got %v", o.Status)
		}
		o.OnTimerFire()
		if o.Status != output.WaitCompletion {
			t.Fatalf("expected WaitCompletion after timer fire, got %v", o.Status)
		}
		o.OnFlipComplete(o.NextRepaint, refresh)
		if !o.RepaintDeadlineOK(refresh) {
			t.Fatal("deadline invariant violated after scheduled flip")
		}
	})
}

// TestHandleInputMessageFocusAndForward covers spec.md §4.7: a pointer-down
// resolves focus via hit-testing, and every message (motion or button) is
// forwarded to the current top view's client.
func TestHandleInputMessageFocusAndForward(t *testing.T) {
	desktop := region.NewRect(0, 0, 1920, 1080)
	o := testOutput(0, desktop, nil)
	c := newTestCompositor(o)

	agent := &stubAgent{}
	surf := view.NewSurface(agent, 200, 200)
	v := view.New(surf, region.NewRect(100, 100, 200, 200))
	surf.View = v
	c.views.Add(v)
	v.RecomputeOutputMask(c.outputsLocked())

	c.HandleInputMessage(input.GUIMessage{Kind: input.MessageMotion, DX: 150, DY: 150})
	if len(agent.inputs) != 1 {
		t.Fatalf("expected motion forwarded to top view's client, got %d messages", len(agent.inputs))
	}

	c.HandleInputMessage(input.GUIMessage{Kind: input.MessageButton, Pressed: true})
	if c.views.TopView() != v {
		t.Fatalf("expected pointer-down over the view to promote it to focus/top")
	}
	if len(agent.inputs) != 2 {
		t.Fatalf("expected button press forwarded too, got %d messages", len(agent.inputs))
	}
}
