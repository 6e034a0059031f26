// Package compositor implements the top-level collaborator that owns
// outputs, views, input dispatch, the repaint timer, and hot-plug
// orchestration (spec.md §2 Compositor, §4.3–§4.7).
//
// Grounded on spec.md's component design and on the teacher's
// functional-options construction idiom; the single-threaded event loop
// (loop.go) is grounded on spec.md §5's "one blocking dispatch call
// parameterized by the next timer deadline" and implemented with
// golang.org/x/sys/unix.EpollWait, the pack's own choice for low-level
// event multiplexing.
package compositor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
	"github.com/cube-wm/cubed/renderer"
	"github.com/cube-wm/cubed/view"
)

// Compositor owns every output, the single view list, and the renderer
// backend, and drives commits, plane allocation, and hot-plug
// orchestration (spec.md §2).
type Compositor struct {
	mu sync.Mutex

	Scanout *kms.Scanout
	backend renderer.Backend

	outputs map[int]*output.Output
	views   *view.List

	// clientSurfaces projects view.Surface onto the renderer's narrower
	// ClientSurface, created lazily on first commit (commit.go).
	clientSurfaces map[*view.Surface]*renderer.ClientSurface

	// renderTargets holds the per-output composition surface and its
	// Disable/Enable-wrapping adapter (spec.md §4.2 step 2's renderer_output).
	renderTargets map[int]*rendererOutputAdapter

	// cursor tracks the single shared pointer position in global desktop
	// coordinates (spec.md §4.7).
	cursorX, cursorY int32

	// cursorBuffers holds each output's ping-pong pair of cursor dumb
	// buffers, indexed by pipe index then by Output.McBufCur (spec.md
	// §4.2 step 3 "ping-pong on mc_damaged").
	cursorBuffers map[int][2]*buffer.Buffer

	// clients tracks every connected client's surfaces and views, keyed by
	// the ids ClientCallbacks hands back to clientagent.
	clients map[uint64]*clientState

	hotplug *hotplugState
}

// Option configures a Compositor at construction, matching the teacher's
// functional-options idiom.
type Option func(*Compositor)

// WithBackend selects the renderer backend; if omitted, New selects
// renderer.Default().
func WithBackend(b renderer.Backend) Option {
	return func(c *Compositor) { c.backend = b }
}

// New constructs a Compositor bound to an already-open Scanout.
func New(scanout *kms.Scanout, opts ...Option) (*Compositor, error) {
	c := &Compositor{
		Scanout:        scanout,
		outputs:        make(map[int]*output.Output),
		views:          view.NewList(),
		renderTargets:  make(map[int]*rendererOutputAdapter),
		clientSurfaces: make(map[*view.Surface]*renderer.ClientSurface),
		cursorBuffers:  make(map[int][2]*buffer.Buffer),
		clients:        make(map[uint64]*clientState),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend == nil {
		c.backend = renderer.Default()
	}
	if c.backend == nil {
		return nil, fmt.Errorf("compositor: New: %w", renderer.ErrBackendNotAvailable)
	}
	if err := c.backend.Init(renderer.NullDeviceHandle{}); err != nil {
		return nil, fmt.Errorf("compositor: New: backend init: %w", err)
	}
	c.hotplug = newHotplugState(c)
	return c, nil
}

// AddOutput registers an already-created Output with the compositor,
// allocating its renderer composition target.
func (c *Compositor) AddOutput(o *output.Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	surf, err := c.backend.NewSurface(uint32(o.CrtcViewPort.Width()), uint32(o.CrtcViewPort.Height()), 0)
	if err != nil {
		return fmt.Errorf("compositor: AddOutput: %w", err)
	}
	adapter := &rendererOutputAdapter{surface: surf, enabled: true}
	o.RendererOutput = adapter
	c.renderTargets[o.PipeIndex] = adapter
	c.outputs[o.PipeIndex] = o
	cubed.Logger().Info("compositor: output added", "pipe", o.PipeIndex)
	return nil
}

// RemoveOutput unregisters an output, e.g. on permanent connector removal.
func (c *Compositor) RemoveOutput(pipeIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if adapter, ok := c.renderTargets[pipeIndex]; ok {
		adapter.surface.Destroy()
		delete(c.renderTargets, pipeIndex)
	}
	delete(c.outputs, pipeIndex)
}

// Outputs returns every registered output, ordered by pipe index (stable
// iteration order for mask computation and scanout-task assembly).
func (c *Compositor) Outputs() []*output.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputsLocked()
}

func (c *Compositor) outputsLocked() []*output.Output {
	out := make([]*output.Output, 0, len(c.outputs))
	for _, o := range c.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipeIndex < out[j].PipeIndex })
	return out
}

func (c *Compositor) outputByIndex(i int) *output.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputs[i]
}

// outputsInMask returns every registered output whose bit is set in mask.
func (c *Compositor) outputsInMask(mask uint32) []*output.Output {
	var out []*output.Output
	for _, o := range c.outputsLocked() {
		if mask&(1<<uint(o.PipeIndex)) != 0 {
			out = append(out, o)
		}
	}
	return out
}

// Views exposes the compositor's single ordered view list (spec.md §4.4).
func (c *Compositor) Views() *view.List { return c.views }

// SetCursorBuffers installs an output's ping-pong pair of cursor dumb
// buffers, allocated once at startup by the caller (spec.md §4.2 step 3).
func (c *Compositor) SetCursorBuffers(pipeIndex int, bufs [2]*buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursorBuffers[pipeIndex] = bufs
}

// rendererOutputAdapter implements output.RendererOutput over a
// renderer.Surface, adding the Enable/Disable gating the plane allocator
// needs when a view commandeers the primary plane (spec.md §4.5: "the
// renderer path for this output is disabled").
type rendererOutputAdapter struct {
	surface renderer.Surface
	enabled bool
}

func (a *rendererOutputAdapter) Repaint(views []output.DrawableView) (bool, error) {
	if !a.enabled {
		return false, nil
	}
	rviews := make([]renderer.View, len(views))
	for i, v := range views {
		rviews[i] = renderer.View{Buf: v.Buf, Area: v.Area, Zpos: v.Zpos, Alpha: v.Alpha, Damage: v.Damage}
	}
	return a.surface.Repaint(rviews)
}

func (a *rendererOutputAdapter) Disable() { a.enabled = false }
func (a *rendererOutputAdapter) Enable()  { a.enabled = true }

// LockFront satisfies kms.NativeSurface so scanout task assembly can hand
// a renderer surface straight to Scanout.GetSurfaceBuf (spec.md §4.1
// get_surface_buf).
func (a *rendererOutputAdapter) LockFront() (buffer.Info, [buffer.MaxPlanes]int32, func(), error) {
	return a.surface.LockFront()
}

var _ kms.NativeSurface = (*rendererOutputAdapter)(nil)
