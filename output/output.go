// Package output implements one display pipeline's repaint state machine:
// CRTC + connector + mode list + owned planes, and the unified timer that
// aligns frame production with vertical blank (spec.md §3 Output, §4.2
// Output repaint scheduler).
//
// Grounded on original_source/server/drm.c's repaint scheduling (the
// NotScheduled/StartFromIdle/WaitCompletion/Scheduled states and the
// 7ms-slack deadline computation) and on the teacher's functional-options
// idiom for Output construction.
package output

import (
	"time"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/region"
)

// RepaintStatus is the per-output state machine of spec.md §3/§4.2.
type RepaintStatus int

const (
	NotScheduled RepaintStatus = iota
	StartFromIdle
	WaitCompletion
	Scheduled
)

func (s RepaintStatus) String() string {
	switch s {
	case NotScheduled:
		return "not-scheduled"
	case StartFromIdle:
		return "start-from-idle"
	case WaitCompletion:
		return "wait-completion"
	case Scheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// repaintSlack is the build+commit budget subtracted from the next vblank
// deadline (spec.md §4.2 "this 7ms slack is the build+commit budget").
const repaintSlack = 7 * time.Millisecond

// Rect is an alias of region.Rect, used here for desktop and viewport
// rectangles (spec.md §3 desktop_rc, crtc_view_port).
type Rect = region.Rect

// Output is one display pipeline (spec.md §3 Output).
type Output struct {
	PipeIndex int

	Pipeline *kms.Pipeline
	Modes    []kms.Mode

	CurrentMode kms.Mode
	PendingMode kms.Mode
	modesetPending bool

	// DesktopRC is the rectangle this output covers in the 65536x65536
	// global-coordinate desktop; CrtcViewPort is the physical-pixel
	// rectangle within the mode that renders it, preserving aspect ratio.
	DesktopRC    Rect
	CrtcViewPort Rect
	Scale        float32

	Status RepaintStatus

	// NextRepaint is the deadline the unified repaint timer compares
	// against (spec.md §4.2 deadline computation).
	NextRepaint time.Time
	lastFlip    time.Time

	// RenderableBufferChanged marks that some renderable content changed
	// since the last completed flip and a repaint must run again once the
	// current one completes (WaitCompletion -> StartFromIdle transition).
	RenderableBufferChanged bool

	DummyBuffer *buffer.Buffer

	RendererOutput RendererOutput
	RenderBufferCur *buffer.Buffer

	McOnScreen  bool
	McViewPort  Rect
	McBufCur    int // 0 or 1, ping-ponged cursor buffer index
	mcDamaged   bool

	// PrimaryRendererDisablePending marks a one-vblank-delayed disable of
	// the renderer path after a view commandeers the primary plane
	// (spec.md §4.5).
	PrimaryRendererDisablePending bool
	primaryCommandeeredBy        *PlaneAssignment
}

// RendererOutput is the contract an Output needs from the Renderer
// collaborator: repaint the non-direct-show view stack into the output's
// native surface (spec.md §4.2 step 2). See SPEC_FULL.md §4.8/renderer
// package for the concrete implementation.
type RendererOutput interface {
	Repaint(views []DrawableView) (drawn bool, err error)
	Disable()
	Enable()
}

// DrawableView is the minimal per-view data the renderer needs to
// composite a non-direct-show view (full View type lives in the view
// package; output only depends on this narrow slice to avoid a package
// cycle).
type DrawableView struct {
	Buf      *buffer.Buffer
	Area     Rect
	Zpos     int
	Alpha    float32
	Damage   *region.Region
}

// PlaneAssignment records which kms.Plane a view currently holds on this
// output (spec.md §3 View.planes[i]).
type PlaneAssignment struct {
	Plane *kms.Plane
	Zpos  int
}

// Option configures an Output at construction, matching the teacher's
// functional-options idiom (ContextOption/RendererOption in the deleted
// root options.go).
type Option func(*Output)

// WithDesktopRect sets the output's position in the global desktop grid.
func WithDesktopRect(r Rect) Option {
	return func(o *Output) { o.DesktopRC = r }
}

// WithScale sets the output's content scale factor.
func WithScale(scale float32) Option {
	return func(o *Output) { o.Scale = scale }
}

// New constructs an Output bound to an already-created kms.Pipeline.
func New(pipeIndex int, pipeline *kms.Pipeline, opts ...Option) *Output {
	o := &Output{
		PipeIndex: pipeIndex,
		Pipeline:  pipeline,
		Scale:     1.0,
		Status:    NotScheduled,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RequestModeset arms a pending mode switch: the next scanout task built
// for this output will program mode via ALLOW_MODESET (spec.md §4.6
// "switch_timing(pipe, mode) marks disable_pending and
// switch_mode_pending").
func (o *Output) RequestModeset(mode kms.Mode) {
	o.PendingMode = mode
	o.modesetPending = true
	o.MarkDirty()
}

// ConsumeModeset reports and clears the pending modeset flag, for the
// caller building this frame's CommitInfo.
func (o *Output) ConsumeModeset() (kms.Mode, bool) {
	if !o.modesetPending {
		return kms.Mode{}, false
	}
	o.modesetPending = false
	mode := o.PendingMode
	o.CurrentMode = mode
	return mode, true
}

// MarkDirty transitions NotScheduled -> StartFromIdle, the trigger for
// "any commit/flush that involves this output" (spec.md §4.2).
func (o *Output) MarkDirty() {
	if o.Status == NotScheduled {
		o.Status = StartFromIdle
	} else {
		o.RenderableBufferChanged = true
	}
}

// RunIdleTask executes the StartFromIdle -> WaitCompletion transition: it
// queries whether we're mid-frame and either schedules immediately or
// computes next_repaint (spec.md §4.2).
func (o *Output) RunIdleTask(now, lastVblank time.Time, refresh time.Duration) {
	if o.Status != StartFromIdle {
		return
	}
	if now.Sub(lastVblank) < refresh {
		o.NextRepaint = computeNextRepaint(lastVblank, refresh, now)
		o.Status = Scheduled
		return
	}
	o.Status = WaitCompletion
}

// computeNextRepaint implements spec.md §4.2's deadline formula:
// next_repaint = last_flip + refresh_nsec - 7ms slack, clamped sane.
func computeNextRepaint(lastFlip time.Time, refresh time.Duration, now time.Time) time.Time {
	next := lastFlip.Add(refresh).Add(-repaintSlack)

	const sanityBound = time.Second
	if next.Before(now.Add(-sanityBound)) || next.After(now.Add(sanityBound)) {
		return now
	}
	for next.Before(now) {
		next = next.Add(refresh)
	}
	return next
}

// OnTimerFire implements Scheduled -> WaitCompletion: the caller (the
// compositor's unified repaint timer) has decided this output's deadline
// has arrived and is about to build+submit.
func (o *Output) OnTimerFire() {
	if o.Status == Scheduled {
		o.Status = WaitCompletion
	}
}

// OnFlipComplete implements the two WaitCompletion exits of spec.md §4.2:
// back to NotScheduled if nothing new accumulated, or StartFromIdle if
// RenderableBufferChanged was set meanwhile. It also recomputes
// NextRepaint from the flip timestamp for invariant #7 bookkeeping.
func (o *Output) OnFlipComplete(flipTime time.Time, refresh time.Duration) {
	o.lastFlip = flipTime
	o.NextRepaint = computeNextRepaint(flipTime, refresh, flipTime)

	if o.RenderableBufferChanged {
		o.RenderableBufferChanged = false
		o.Status = StartFromIdle
		return
	}
	o.Status = NotScheduled
}

// RepaintDeadlineOK checks invariant #7 (spec.md §8): the repaint deadline
// is always within 1 second of last_flip + refresh_nsec - 7ms.
func (o *Output) RepaintDeadlineOK(refresh time.Duration) bool {
	want := o.lastFlip.Add(refresh).Add(-repaintSlack)
	diff := o.NextRepaint.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Second
}
