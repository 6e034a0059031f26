package compositor

import (
	"sync"
	"time"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/kms"
	"github.com/cube-wm/cubed/output"
)

// debounceWindow is the per-output coalescing window spec.md §4.6
// describes: "a per-output 500ms timer. Transitions seen during the
// debounce window are coalesced into the final state broadcast at the
// end."
const debounceWindow = 500 * time.Millisecond

// retryInterval is the poll period for a plug-out or suspend disable that
// the driver reported busy (spec.md §4.6 "retry via a 1.5ms timer").
const retryInterval = 1500 * time.Microsecond

// pipeHotplug is one output's hot-plug/suspend bookkeeping.
type pipeHotplug struct {
	connected bool // last connector status observed

	debounceDeadline time.Time // zero: no debounce pending
	retryDeadline    time.Time // zero: no disable retry pending
	retryForSuspend  bool      // the pending retry is part of Suspend, not plug-out

	savedMode    kms.Mode
	hasSavedMode bool
}

// hotplugState implements spec.md §4.6's hot-plug, mode-switch, and
// suspend/resume orchestration: it owns the debounce and retry timers the
// event loop (loop.go) drives, and the disable_head_detect flag that makes
// udev events a no-op while suspended.
type hotplugState struct {
	c *Compositor

	mu                 sync.Mutex
	outputs            map[int]*pipeHotplug
	disableHeadDetect  bool

	// OnLayoutChanged, if set, is invoked after a plug-in, plug-out, or
	// mode switch settles, the trigger for the "layout-changed broadcast"
	// spec.md §4.6/§4.7 describes. Left nil until clientagent wires it.
	OnLayoutChanged func()
}

// newHotplugState constructs the hot-plug tracker for c, with no output yet
// under debounce or retry.
func newHotplugState(c *Compositor) *hotplugState {
	return &hotplugState{c: c, outputs: make(map[int]*pipeHotplug)}
}

func (h *hotplugState) entry(pipeIndex int) *pipeHotplug {
	e, ok := h.outputs[pipeIndex]
	if !ok {
		e = &pipeHotplug{}
		h.outputs[pipeIndex] = e
	}
	return e
}

// HandleUdevEvent processes one udev notification read from
// Scanout.ReadUdevEvent. Non-DRM-hotplug events and every event while
// suspended (disable_head_detect) are ignored (spec.md §4.6 "set
// disable_head_detect so udev events are ignored until Resume").
func (h *hotplugState) HandleUdevEvent(ev drmEvent, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disableHeadDetect || !ev.IsDRMHotplug() {
		return
	}
	h.rescanLocked(now)
}

// drmEvent is the narrow slice of internal/drmioctl.Event hotplugState
// needs, kept local to avoid compositor importing the internal package
// directly for a one-method interface.
type drmEvent interface {
	IsDRMHotplug() bool
}

// rescanLocked re-reads every registered output's connector and arms or
// extends that output's debounce timer on a status transition (spec.md
// §4.6 "Each change triggers a re-read of every connector; transitions are
// detected by comparing connected flags").
func (h *hotplugState) rescanLocked(now time.Time) {
	for _, o := range h.c.outputsLocked() {
		connected, modes, err := h.c.Scanout.ConnectorModes(o.Pipeline.ConnectorID)
		if err != nil {
			cubed.Logger().Warn("hotplug: rescan failed", "pipe", o.PipeIndex, "err", err)
			continue
		}
		e := h.entry(o.PipeIndex)
		if connected != e.connected || !e.debounceDeadline.IsZero() {
			e.connected = connected
			o.Modes = modes
			e.debounceDeadline = now.Add(debounceWindow)
		}
	}
}

// NextDeadline returns the earliest pending debounce or retry deadline, for
// the event loop to use as its epoll timeout (spec.md §5 "the event loop's
// dispatch call is the sole blocking point, parameterized by the next
// timer deadline").
func (h *hotplugState) NextDeadline() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var best time.Time
	have := false
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if !have || t.Before(best) {
			best, have = t, true
		}
	}
	for _, e := range h.outputs {
		consider(e.debounceDeadline)
		consider(e.retryDeadline)
	}
	return best, have
}

// Tick fires every debounce and retry timer that has expired by now. Called
// by the event loop after every blocking wait returns (spec.md §4.6).
func (h *hotplugState) Tick(now time.Time) {
	h.mu.Lock()
	var fireConnector, fireRetry, fireSuspendRetry []int
	for pipeIndex, e := range h.outputs {
		if !e.debounceDeadline.IsZero() && !now.Before(e.debounceDeadline) {
			e.debounceDeadline = time.Time{}
			fireConnector = append(fireConnector, pipeIndex)
		}
		if !e.retryDeadline.IsZero() && !now.Before(e.retryDeadline) {
			e.retryDeadline = time.Time{}
			if e.retryForSuspend {
				fireSuspendRetry = append(fireSuspendRetry, pipeIndex)
			} else {
				fireRetry = append(fireRetry, pipeIndex)
			}
		}
	}
	h.mu.Unlock()

	for _, pipeIndex := range fireConnector {
		h.settleConnector(pipeIndex)
	}
	for _, pipeIndex := range fireRetry {
		h.retryPlugOutDisable(pipeIndex)
	}
	for _, pipeIndex := range fireSuspendRetry {
		h.retrySuspendDisable(pipeIndex)
	}
}

// settleConnector runs the debounced plug-in or plug-out transition for
// pipeIndex once its 500ms coalescing window has elapsed.
func (h *hotplugState) settleConnector(pipeIndex int) {
	o := h.c.outputByIndex(pipeIndex)
	if o == nil {
		return
	}
	h.mu.Lock()
	connected := h.entry(pipeIndex).connected
	h.mu.Unlock()

	if connected {
		h.planIn(o)
	} else {
		h.planOut(pipeIndex, o, false)
	}
	h.broadcastLayoutChanged()
}

// planIn implements spec.md §4.6 plug-in: "enable the CRTC with the
// preferred mode, create a native GPU surface at the mode's size, create a
// renderer output bound to that surface, mark renderable_buffer_changed".
// The native surface and renderer output already exist from AddOutput, so
// plug-in re-enables the existing one and arms a modeset to the preferred
// mode.
func (h *hotplugState) planIn(o *output.Output) {
	mode := preferredMode(o.Modes)
	o.RequestModeset(mode)
	if o.RendererOutput != nil {
		o.RendererOutput.Enable()
	}
	o.RenderableBufferChanged = true
	o.MarkDirty()
	cubed.Logger().Info("hotplug: plug-in", "pipe", o.PipeIndex, "width", mode.Width, "height", mode.Height)
}

// planOut implements spec.md §4.6 plug-out: it synchronously attempts to
// disable the CRTC with an atomic disable and, if that fails with a
// transient error (driver busy), arms the 1.5ms retry timer. On success
// completeDisable disables the renderer output and cancels outstanding
// scanout tasks; the renderer output is not destroyed and no native
// surface is freed.
func (h *hotplugState) planOut(pipeIndex int, o *output.Output, forSuspend bool) {
	ps, err := h.c.Scanout.ScanoutDataAlloc(pipeIndex)
	if err != nil {
		cubed.Logger().Warn("hotplug: plug-out alloc failed", "pipe", pipeIndex, "err", err)
		return
	}
	if err := h.c.Scanout.FillScanoutData(ps, kms.CommitInfo{PipeIndex: pipeIndex, Disable: true}, nil, nil); err != nil {
		cubed.Logger().Warn("hotplug: plug-out fill failed", "pipe", pipeIndex, "err", err)
		return
	}
	err = h.c.Scanout.DoScanout(ps)
	if err == nil {
		h.completeDisable(pipeIndex, o)
		return
	}
	if kms.IsTransient(err) {
		h.mu.Lock()
		e := h.entry(pipeIndex)
		e.retryDeadline = time.Now().Add(retryInterval)
		e.retryForSuspend = forSuspend
		h.mu.Unlock()
		return
	}
	cubed.Logger().Warn("hotplug: plug-out disable failed", "pipe", pipeIndex, "err", err)
}

// completeDisable runs the success path shared by plug-out and suspend:
// disable the renderer output and cancel every outstanding scanout task
// touching this pipe by clearing the corresponding dirty bit (spec.md §4.6
// "cancel outstanding scanout tasks, clearing every buffer's dirty bit for
// this pipe").
func (h *hotplugState) completeDisable(pipeIndex int, o *output.Output) {
	if o.RendererOutput != nil {
		o.RendererOutput.Disable()
	}
	for _, v := range h.c.views.Views() {
		if v.Surface == nil {
			continue
		}
		if buf := v.Surface.BufferCur; buf != nil {
			buf.ClearDirty(pipeIndex)
		}
	}
	if o.RenderBufferCur != nil {
		o.RenderBufferCur.ClearDirty(pipeIndex)
	}
	o.Status = output.NotScheduled
	cubed.Logger().Info("hotplug: plug-out complete", "pipe", pipeIndex)
}

func (h *hotplugState) retryPlugOutDisable(pipeIndex int) {
	o := h.c.outputByIndex(pipeIndex)
	if o == nil {
		return
	}
	h.planOut(pipeIndex, o, false)
}

// SwitchMode implements spec.md §4.6 "switch_timing(pipe, mode) marks
// disable_pending and switch_mode_pending, disables the CRTC, and
// re-enables it with the new mode. During the transition, clients see a
// layout-changed broadcast."
func (h *hotplugState) SwitchMode(pipeIndex int, mode kms.Mode) {
	o := h.c.outputByIndex(pipeIndex)
	if o == nil {
		return
	}
	h.planOut(pipeIndex, o, false)
	o.RequestModeset(mode)
	h.broadcastLayoutChanged()
}

// Suspend implements spec.md §4.6 Suspend: save every output's current
// mode, disable all CRTCs asynchronously via the same retry timer, and
// start ignoring udev events until Resume.
func (h *hotplugState) Suspend() {
	h.mu.Lock()
	h.disableHeadDetect = true
	for _, o := range h.c.outputsLocked() {
		e := h.entry(o.PipeIndex)
		e.savedMode = o.CurrentMode
		e.hasSavedMode = true
	}
	h.mu.Unlock()

	for _, o := range h.c.outputsLocked() {
		h.planOut(o.PipeIndex, o, true)
	}
}

func (h *hotplugState) retrySuspendDisable(pipeIndex int) {
	o := h.c.outputByIndex(pipeIndex)
	if o == nil {
		return
	}
	h.planOut(pipeIndex, o, true)
}

// Resume implements spec.md §4.6 Resume: "restores each output to its
// saved mode when the connector is still plugged."
func (h *hotplugState) Resume() {
	h.mu.Lock()
	h.disableHeadDetect = false
	saved := make(map[int]kms.Mode, len(h.outputs))
	for pipeIndex, e := range h.outputs {
		if e.hasSavedMode {
			saved[pipeIndex] = e.savedMode
			e.hasSavedMode = false
		}
	}
	h.mu.Unlock()

	for pipeIndex, mode := range saved {
		o := h.c.outputByIndex(pipeIndex)
		if o == nil {
			continue
		}
		connected, _, err := h.c.Scanout.ConnectorModes(o.Pipeline.ConnectorID)
		if err != nil || !connected {
			continue
		}
		if o.RendererOutput != nil {
			o.RendererOutput.Enable()
		}
		o.RequestModeset(mode)
		o.RenderableBufferChanged = true
		o.MarkDirty()
	}
	h.broadcastLayoutChanged()
}

func (h *hotplugState) broadcastLayoutChanged() {
	if h.OnLayoutChanged != nil {
		h.OnLayoutChanged()
	}
}

// preferredMode picks the connector's preferred mode, falling back to the
// first advertised mode when none is marked preferred.
func preferredMode(modes []kms.Mode) kms.Mode {
	for _, m := range modes {
		if m.Preferred {
			return m
		}
	}
	if len(modes) > 0 {
		return modes[0]
	}
	return kms.Mode{}
}
