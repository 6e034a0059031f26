// input.go implements the compositor-side half of spec.md §4.7's input
// path: cursor tracking, pointer-down focus resolution, and forwarding
// classified GUI messages to the top view's client. Raw kernel events and
// per-device classification belong to package input; this file only reacts
// to the GUIMessage projection.
package compositor

import (
	"github.com/cube-wm/cubed/input"
	"github.com/cube-wm/cubed/output"
)

// HandleInputMessage implements spec.md §4.7: cursor motion updates the
// global cursor position and schedules a repaint on every output the
// cursor crosses; a button press resolves focus via hit-testing before the
// message reaches the top view's client; every message is then forwarded
// verbatim to the top view's client, if any.
func (c *Compositor) HandleInputMessage(msg input.GUIMessage) {
	c.mu.Lock()
	switch msg.Kind {
	case input.MessageMotion:
		c.cursorX += msg.DX
		c.cursorY += msg.DY
		c.repositionCursorLocked()
	case input.MessageButton:
		if msg.Pressed {
			if v := c.views.HitTest(c.cursorX, c.cursorY); v != nil {
				c.views.PromoteToFocus(v)
			}
		}
	}
	top := c.views.TopView()
	c.mu.Unlock()

	if top == nil || top.Surface == nil || top.Surface.Client == nil {
		return
	}
	top.Surface.Client.SendInput(int(msg.Kind), msg.DX, msg.DY, msg.Code, msg.Pressed)
}

// repositionCursorLocked marks every output under the new cursor position
// on-screen for its cursor plane and schedules a repaint for any output
// whose cursor state changed (spec.md §4.2 step 3, §4.7). Called with
// c.mu held.
func (c *Compositor) repositionCursorLocked() {
	for _, o := range c.outputsLocked() {
		rc := o.DesktopRC
		onScreen := c.cursorX >= rc.X0 && c.cursorX < rc.X1 && c.cursorY >= rc.Y0 && c.cursorY < rc.Y1
		if onScreen == o.McOnScreen && !onScreen {
			continue
		}
		o.McOnScreen = onScreen
		if onScreen {
			local := output.Rect{
				X0: c.cursorX - o.DesktopRC.X0,
				Y0: c.cursorY - o.DesktopRC.Y0,
			}
			o.McViewPort = output.Rect{X0: local.X0, Y0: local.Y0, X1: local.X0 + o.McViewPort.Width(), Y1: local.Y0 + o.McViewPort.Height()}
		}
		o.MarkDirty()
	}
}
