package compositor

import (
	"errors"
	"fmt"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/output"
	"github.com/cube-wm/cubed/renderer"
	"github.com/cube-wm/cubed/view"
)

// ErrNoPlaneAvailable is returned by CommitDMABUF when every output in the
// view's mask failed plane allocation (spec.md §4.3 commit_dmabuf step 3:
// "return -ENOENT so the client learns the commit was rejected").
var ErrNoPlaneAvailable = errors.New("compositor: no plane available for direct-show commit")

// clientSurfaceFor returns the renderer.ClientSurface backing surf,
// creating it on first use. It is the renderer-facing projection of a
// view.Surface, kept outside the view package to avoid an import cycle
// (renderer must not depend on view).
func (c *Compositor) clientSurfaceFor(surf *view.Surface) *renderer.ClientSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.clientSurfaces[surf]
	if !ok {
		cs = &renderer.ClientSurface{Width: surf.Width, Height: surf.Height}
		c.clientSurfaces[surf] = cs
	}
	return cs
}

// CommitSurface implements spec.md §4.3 commit_surface: the renderer path
// for shared-memory or composed DMA-BUF content.
func (c *Compositor) CommitSurface(surf *view.Surface) error {
	v := surf.View

	if surf.BufferPending == nil {
		c.removeView(v)
		return nil
	}

	mask, diff := v.RecomputeOutputMask(c.outputsLocked())

	bufChanged := surf.BufferPending != surf.BufferCur
	if bufChanged {
		cs := c.clientSurfaceFor(surf)
		cs.ID = surf.BufferPending.ID
		if err := c.backend.AttachBuffer(cs, surf.BufferPending); err != nil {
			return fmt.Errorf("compositor: CommitSurface: attach: %w", err)
		}
		if surf.BufferPending.Info.Type == buffer.KindSHM {
			cs.Damage = surf.Damage
			if err := c.backend.FlushDamage(cs); err != nil {
				return fmt.Errorf("compositor: CommitSurface: flush: %w", err)
			}
		}
	}

	pendingID := surf.BufferPending.ID
	surf.BufferCur = surf.BufferPending
	surf.BufferPending = nil

	surf.Output = c.pickMainOutput(mask, v.PipeLocked)

	for _, o := range c.outputsInMask(mask | diff) {
		o.RenderableBufferChanged = true
		o.MarkDirty()
	}

	if surf.Client != nil {
		surf.Client.SendBufferComplete(pendingID)
	}
	cubed.Logger().Debug("compositor: commit_surface", "mask", mask, "diff", diff, "buffer", pendingID)
	return nil
}

// CommitDMABUF implements spec.md §4.3 commit_dmabuf: the direct-scanout
// path, including the replace-pending protocol (spec.md §8 testable
// property #6).
func (c *Compositor) CommitDMABUF(surf *view.Surface) error {
	v := surf.View

	if surf.BufferPending == nil {
		c.removeDirectShowView(v)
		return nil
	}

	mask, _ := v.RecomputeOutputMask(c.outputsLocked())

	allocated := false
	for _, o := range c.outputsInMask(mask) {
		pixFmt := surf.BufferPending.Info.PixFmt
		if _, ok := c.allocatePlane(v, o, pixFmt, v.Zpos); ok {
			allocated = true
			surf.BufferPending.SetDirty(o.PipeIndex)
			o.MarkDirty()
		}
	}
	if !allocated {
		return ErrNoPlaneAvailable
	}

	// Replace-pending protocol (spec.md §4.3 step 6, testable property #6):
	// if buffer_last was never flipped, hand it back to the client now.
	previous := surf.BufferLast
	replacedPrevious := previous != nil

	newBuf := surf.BufferPending
	surf.BufferCur = newBuf
	surf.BufferLast = newBuf
	surf.BufferPending = nil

	if replacedPrevious && surf.Client != nil {
		surf.Client.SendBufferComplete(previous.ID)
	}

	newBuf.Flipped.Add(func(ev buffer.FlipEvent) {
		if surf.Client != nil {
			surf.Client.SendBufferFlipped(newBuf.ID, ev.OutputIndex, ev.Sec, ev.USec)
		}
	})
	newBuf.Completed.Add(func(b *buffer.Buffer) {
		if surf.Client != nil {
			surf.Client.SendBufferComplete(b.ID)
		}
		if surf.BufferLast == b {
			surf.BufferLast = nil
		}
	})

	if surf.Client != nil {
		surf.Client.SendBufferComplete(newBuf.ID) // COMMIT_OK echoes the buffer id
		if replacedPrevious {
			surf.Client.SendBufferReplace(newBuf.ID)
		}
	}

	cubed.Logger().Debug("compositor: commit_dmabuf", "mask", mask, "buffer", newBuf.ID, "replaced", replacedPrevious)
	return nil
}

// pickMainOutput selects a surface's "main output" for flip-listener
// registration (spec.md §4.3 commit_surface step 4): the pipe-locked
// output if one is named and present in mask, else the output in mask
// with the highest nominal refresh period. Returns nil if mask is empty.
func (c *Compositor) pickMainOutput(mask uint32, pipeLocked int) *output.Output {
	if mask == 0 {
		return nil
	}
	candidates := c.outputsInMask(mask)
	if pipeLocked != view.NoPipe {
		for _, o := range candidates {
			if o.PipeIndex == pipeLocked {
				return o
			}
		}
	}
	var best *output.Output
	var bestRefresh int64 = -1
	for _, o := range candidates {
		refresh := o.CurrentMode.RefreshNanos()
		if refresh > bestRefresh {
			bestRefresh = refresh
			best = o
		}
	}
	return best
}

// removeView tears down a renderer-path view whose surface has no more
// pending content (spec.md §4.3 commit_surface step 1).
func (c *Compositor) removeView(v *view.View) {
	c.views.Remove(v)
}

// removeDirectShowView tears down a direct-show view: every assigned
// overlay plane is returned to its output's free list, and the renderer
// is re-enabled on any output whose primary it commandeered (spec.md §4.3
// commit_dmabuf step 1).
func (c *Compositor) removeDirectShowView(v *view.View) {
	for _, o := range c.outputsLocked() {
		c.releaseViewPlane(v, o)
	}
	c.views.Remove(v)
}
