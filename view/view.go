// Package view implements the client-visible drawable and its placement on
// the global desktop (spec.md §3 View/Surface, §4.4 view ordering and input
// focus). A View owns current/pending buffer references indirectly through
// its Surface and tracks which outputs it touches via OutputMask.
//
// Grounded on spec.md §3's View/Surface data model and on the teacher's
// struct-with-functional-options constructor idiom (output.New's Option
// pattern, reused here for View/Surface construction).
package view

import (
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
	"github.com/cube-wm/cubed/region"
	"github.com/cube-wm/cubed/signal"
)

// MaxOutputs bounds the per-view plane/area arrays; OutputMask is a uint32
// bitset so 32 is the natural ceiling (spec.md §3 output_mask: u32).
const MaxOutputs = 32

// Rect is an alias of region.Rect, matching the rest of cubed.
type Rect = region.Rect

// NoPipe is the PipeLocked sentinel meaning "not locked to any output."
const NoPipe = -1

// FocusEvent is the payload of View.Focus: true on focus-gained, false on
// focus-lost (spec.md §4.4 "receives a focus-gained message" / "focus-lost").
type FocusEvent struct {
	Gained bool
}

// View is a placed, alpha-composited window of a Surface on the global
// desktop (spec.md §3 View, GLOSSARY "View").
type View struct {
	Surface *Surface

	Area  Rect
	Zpos  int
	Alpha float32

	// Float views are always kept at the top of the view list, ahead of
	// every normal view (spec.md §4.4).
	Float bool

	// PipeLocked restricts OutputMask recomputation to the named pipe
	// index, or NoPipe if unrestricted. Decided (DESIGN.md Open Question):
	// this *restricts* rather than *forces* membership — a pipe-locked
	// view whose Area does not intersect that pipe's DesktopRC yields an
	// empty mask rather than a forced membership.
	PipeLocked int

	// DirectShow is true for a view whose buffer is scanned out through an
	// overlay/primary plane with no renderer composition step.
	DirectShow bool

	// OutputMask is the bitset of outputs this view currently touches
	// (spec.md §3 invariant #1).
	OutputMask uint32

	// Planes[i] is the KMS plane assigned to this view on output i,
	// non-nil only for DirectShow views with an active commit on that
	// output.
	Planes [MaxOutputs]*kms.Plane

	// SrcAreas/DstAreas are the per-output source (buffer-space) and
	// destination (crtc-space) rectangles direct-scanout plane tasks are
	// built from (spec.md §4.5 plane allocator clamping).
	SrcAreas [MaxOutputs]Rect
	DstAreas [MaxOutputs]Rect

	// RootView is referenced once in the original source for a list-move
	// exemption with no other consumer; preserved verbatim pending a
	// future use (DESIGN.md Open Question).
	RootView bool

	// Painted records whether this view contributed to the most recently
	// submitted scanout task list for at least one output.
	Painted bool

	// Focus fires FocusEvent when this view gains or loses top-view
	// status (spec.md §4.4).
	Focus *signal.Signal[FocusEvent]
}

// New creates a View bound to surf, initially untracked by any output.
func New(surf *Surface, area Rect) *View {
	v := &View{
		Surface:    surf,
		Area:       area,
		Alpha:      1.0,
		PipeLocked: NoPipe,
		Focus:      signal.New[FocusEvent](),
	}
	if surf != nil {
		surf.View = v
	}
	return v
}

// RecomputeOutputMask applies spec.md §3 invariant #1: the mask equals the
// set of outputs whose DesktopRC intersects v.Area, filtered by PipeLocked
// if set. It returns the new mask and the symmetric difference against the
// previous mask (spec.md §8 testable property #3).
func (v *View) RecomputeOutputMask(outputs []*output.Output) (mask uint32, diff uint32) {
	old := v.OutputMask
	var next uint32
	for _, o := range outputs {
		if o == nil {
			continue
		}
		if v.PipeLocked != NoPipe && v.PipeLocked != o.PipeIndex {
			continue
		}
		if o.PipeIndex < 0 || o.PipeIndex >= MaxOutputs {
			continue
		}
		if o.DesktopRC.Intersects(v.Area) {
			next |= 1 << uint(o.PipeIndex)
		}
	}
	v.OutputMask = next
	return next, old ^ next
}

// Contains reports whether the point (x, y) in global desktop coordinates
// falls within the view's area, used by pointer/touch-down hit testing
// (spec.md §4.4).
func (v *View) Contains(x, y int32) bool {
	return x >= v.Area.X0 && x < v.Area.X1 && y >= v.Area.Y0 && y < v.Area.Y1
}

// ReleasePlane clears the view's plane assignment on output index i,
// returning the plane that was assigned (nil if none), for the caller to
// return to the owning output's free list (spec.md §4.2 deferred plane
// release, §4.5 plane allocator release-then-reallocate step).
func (v *View) ReleasePlane(i int) *kms.Plane {
	if i < 0 || i >= MaxOutputs {
		return nil
	}
	p := v.Planes[i]
	v.Planes[i] = nil
	return p
}

// Surface is the client-owned drawable a View displays (spec.md §3
// Surface).
type Surface struct {
	View   *View
	Client ClientAgent

	BufferPending *buffer.Buffer
	BufferCur     *buffer.Buffer
	BufferLast    *buffer.Buffer

	Damage *region.Region
	Opaque *region.Region

	Width  uint32
	Height uint32

	// UseRenderer is true for shared-memory or composed DMA-BUF content
	// that must pass through the renderer rather than going direct-show.
	UseRenderer bool

	// Output is the surface's current "main output" for flip-listener
	// registration (spec.md §4.3 commit_surface step 4: highest-refresh
	// output in the mask, or the pipe-locked one).
	Output *output.Output
}

// ClientAgent is the narrow slice of the external ClientAgent collaborator
// (spec.md §6) a Surface needs: acknowledging buffer lifecycle events back
// to the owning client. The full IPC framing/dispatch lives in package
// clientagent; this interface exists so view never imports it (clientagent
// depends on view, not the reverse).
type ClientAgent interface {
	SendBufferComplete(bufID uint64)
	SendBufferFlipped(bufID uint64, outputIndex int, sec, usec uint32)
	// SendBufferReplace sends COMMIT_REPLACE alongside a normal COMMIT_OK
	// (spec.md §4.3 commit_dmabuf step 6, §6 "COMMIT_REPLACE").
	SendBufferReplace(bufID uint64)
	// SendInput forwards a GUI input message to the top view's client
	// (spec.md §4.7 "the top-view's client ... forwards GUI messages").
	SendInput(kind int, dx, dy int32, code uint16, pressed bool)
}

// NewSurface creates an empty Surface owned by client.
func NewSurface(client ClientAgent, width, height uint32) *Surface {
	return &Surface{
		Client: client,
		Damage: region.Empty(),
		Opaque: region.Empty(),
		Width:  width,
		Height: height,
	}
}
