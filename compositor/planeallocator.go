package compositor

import (
	"sort"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
	"github.com/cube-wm/cubed/view"
)

// allocatePlane implements spec.md §4.5's plane allocator for one view on
// one output: keep an existing primary-plane assignment if still
// supported, otherwise release and search free_planes, falling back to
// commandeering the primary.
func (c *Compositor) allocatePlane(v *view.View, o *output.Output, pixFmt buffer.PixelFormat, requestedZpos int) (*kms.Plane, bool) {
	pipe := o.Pipeline
	if pipe == nil {
		return nil, false
	}

	if existing := v.Planes[o.PipeIndex]; existing != nil {
		if existing == pipe.Primary && existing.SupportsFormat(pixFmt) {
			return existing, true
		}
		c.releaseViewPlane(v, o)
	}

	for i, pl := range pipe.FreePlanes {
		if !pl.SupportsFormat(pixFmt) {
			continue
		}
		if requestedZpos != -1 && pl.Zpos != requestedZpos {
			continue
		}
		pipe.FreePlanes = append(pipe.FreePlanes[:i:i], pipe.FreePlanes[i+1:]...)
		v.Planes[o.PipeIndex] = pl
		return pl, true
	}

	if pipe.Primary != nil && pipe.Primary.SupportsFormat(pixFmt) {
		// Commandeer the primary (spec.md §4.5): the renderer path is
		// disabled after a one-vblank delay (DESIGN.md Open Question
		// decision: matches observed source behavior, a possible single
		// black frame is accepted). The actual vblank-delayed disable is
		// performed by applyPendingRendererDisable in scanouttask.go;
		// here we only record the pending flag and clamp geometry.
		o.PrimaryRendererDisablePending = true
		v.Planes[o.PipeIndex] = pipe.Primary
		if !pipe.Primary.ScaleSupport {
			clampToBuffer(v, o.PipeIndex)
		}
		return pipe.Primary, true
	}

	return nil, false
}

// releaseViewPlane returns v's plane on output o to the free list
// (zpos-sorted) or, if it was the commandeered primary, re-enables the
// renderer path. The overlay plane is returned at once; the release is not
// deferred until the commit that stops scanning it out has completed.
func (c *Compositor) releaseViewPlane(v *view.View, o *output.Output) {
	pl := v.ReleasePlane(o.PipeIndex)
	if pl == nil {
		return
	}
	pipe := o.Pipeline
	if pipe != nil && pl == pipe.Primary {
		o.PrimaryRendererDisablePending = false
		if o.RendererOutput != nil {
			o.RendererOutput.Enable()
		}
		return
	}
	if pipe == nil {
		return
	}
	pipe.FreePlanes = append(pipe.FreePlanes, pl)
	sort.Slice(pipe.FreePlanes, func(i, j int) bool { return pipe.FreePlanes[i].Zpos < pipe.FreePlanes[j].Zpos })
}

// clampToBuffer clamps v's source/destination rectangles on output index i
// so dst.w <= src.w (the primary plane may not support scaling, spec.md
// §4.5).
func clampToBuffer(v *view.View, i int) {
	src := v.SrcAreas[i]
	dst := v.DstAreas[i]
	if dst.Width() > src.Width() {
		dst.X1 = dst.X0 + src.Width()
	}
	if dst.Height() > src.Height() {
		dst.Y1 = dst.Y0 + src.Height()
	}
	v.DstAreas[i] = dst
}
