package compositor

import (
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
)

// buildScanoutTasks assembles one output's per-frame CommitInfo, following
// spec.md §4.2's four-step algorithm: direct-show plane tasks, the
// renderer's composed primary-plane task, the cursor task, and the
// dummy-buffer fallback when nothing else is on-screen.
func (c *Compositor) buildScanoutTasks(o *output.Output) (kms.CommitInfo, map[*kms.Plane]uint32, map[*kms.Plane]*buffer.Buffer) {
	c.applyPendingRendererDisable(o)

	info := kms.CommitInfo{PipeIndex: o.PipeIndex}
	if mode, pending := o.ConsumeModeset(); pending {
		info.ModesetPending = true
		info.Mode = mode
	}
	fbIDs := make(map[*kms.Plane]uint32)
	bufs := make(map[*kms.Plane]*buffer.Buffer)

	addTask := func(pl *kms.Plane, src, dst output.Rect, zpos int, buf *buffer.Buffer) {
		info.Tasks = append(info.Tasks, kms.PlaneTask{
			Plane: pl,
			SrcX:  float64(src.X0), SrcY: float64(src.Y0),
			SrcW: float64(src.Width()), SrcH: float64(src.Height()),
			CrtcX: dst.X0, CrtcY: dst.Y0, CrtcW: dst.Width(), CrtcH: dst.Height(),
			Zpos:      zpos,
			BufWidth:  buf.Info.Width,
			BufHeight: buf.Info.Height,
		})
		fbIDs[pl] = buf.FBID
		bufs[pl] = buf
	}

	// Step 1: direct-show views, topmost first, each on its previously
	// (or newly) allocated plane.
	for _, v := range c.views.Views() {
		if !v.DirectShow || v.OutputMask&(1<<uint(o.PipeIndex)) == 0 {
			continue
		}
		surf := v.Surface
		if surf == nil || surf.BufferCur == nil {
			continue
		}
		pl := v.Planes[o.PipeIndex]
		if pl == nil {
			continue // the plane allocator failed this view on this output
		}
		zpos := v.Zpos
		if pl == o.Pipeline.Primary {
			zpos = -1
		}
		addTask(pl, v.SrcAreas[o.PipeIndex], v.DstAreas[o.PipeIndex], zpos, surf.BufferCur)
	}

	// Step 2: renderer composition of every non-direct-show view, onto
	// the primary plane at zpos -1, unless a direct-show view already
	// commandeered the primary in step 1 (disabled by
	// applyPendingRendererDisable above).
	if o.RendererOutput != nil && primaryFree(info.Tasks, o.Pipeline.Primary) {
		drawables := c.renderableViews(o)
		if drawn, err := o.RendererOutput.Repaint(drawables); err == nil && drawn {
			if ns, ok := o.RendererOutput.(kms.NativeSurface); ok {
				if buf, err := c.Scanout.GetSurfaceBuf(ns); err == nil {
					full := output.Rect{X0: 0, Y0: 0, X1: o.CrtcViewPort.Width(), Y1: o.CrtcViewPort.Height()}
					addTask(o.Pipeline.Primary, full, full, -1, buf)
				}
			}
		}
	}

	// Step 3: cursor, ping-ponged between its two buffers by McBufCur.
	if o.McOnScreen && o.Pipeline.Cursor != nil {
		if cur := c.cursorBuffer(o); cur != nil {
			full := output.Rect{X0: 0, Y0: 0, X1: int32(cur.Info.Width), Y1: int32(cur.Info.Height)}
			addTask(o.Pipeline.Cursor, full, o.McViewPort, 0, cur)
		}
	}

	// Step 4: dummy-buffer fallback so the CRTC keeps flipping.
	if len(info.Tasks) == 0 && o.DummyBuffer != nil {
		full := output.Rect{X0: 0, Y0: 0, X1: o.CrtcViewPort.Width(), Y1: o.CrtcViewPort.Height()}
		addTask(o.Pipeline.Primary, full, full, -1, o.DummyBuffer)
	}

	return info, fbIDs, bufs
}

// primaryFree reports whether no task already claims the primary plane (a
// direct-show view may have commandeered it in step 1).
func primaryFree(tasks []kms.PlaneTask, primary *kms.Plane) bool {
	for _, t := range tasks {
		if t.Plane == primary {
			return false
		}
	}
	return true
}

// renderableViews collects the DrawableView projection of every
// non-direct-show view touching o, back-to-front (the view list is
// top-of-stack first, so the renderer wants it reversed).
func (c *Compositor) renderableViews(o *output.Output) []output.DrawableView {
	views := c.views.Views()
	var out []output.DrawableView
	for i := len(views) - 1; i >= 0; i-- {
		v := views[i]
		if v.DirectShow || v.OutputMask&(1<<uint(o.PipeIndex)) == 0 {
			continue
		}
		if v.Surface == nil || v.Surface.BufferCur == nil {
			continue
		}
		out = append(out, output.DrawableView{
			Buf: v.Surface.BufferCur, Area: v.Area, Zpos: v.Zpos, Alpha: v.Alpha,
			Damage: v.Surface.Damage,
		})
	}
	return out
}

// cursorBuffer returns the ping-pong cursor buffer McBufCur currently
// names. The buffers themselves are allocated at startup by cmd/cubed and
// installed with SetCursorBuffers, not by scanout task assembly.
func (c *Compositor) cursorBuffer(o *output.Output) *buffer.Buffer {
	if o.McBufCur < 0 || o.McBufCur > 1 {
		return nil
	}
	return c.cursorBuffers[o.PipeIndex][o.McBufCur]
}

// applyPendingRendererDisable implements the one-vblank-delayed renderer
// disable spec.md §4.2 step 1 describes: the flag is set synchronously by
// the plane allocator at commit time, and takes effect the next time this
// output's scanout task list is assembled, which happens only from the
// repaint timer and so is always at least one vblank later.
func (c *Compositor) applyPendingRendererDisable(o *output.Output) {
	if !o.PrimaryRendererDisablePending {
		return
	}
	if o.RendererOutput != nil {
		o.RendererOutput.Disable()
	}
}
