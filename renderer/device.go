// Package renderer implements the Renderer collaborator named in spec.md
// §1/§4: attach-buffer/flush-damage for shared-memory surfaces, and
// per-output repaint of the non-direct-show view stack into a native
// surface buffer consumable by the primary plane. The renderer's internal
// shader and texture management is explicitly out of scope (spec.md §1);
// this package specifies only the contracts Output and Compositor depend
// on, plus a real CPU compositing path and a real GPU device-handle wiring
// so cubed links against the teacher's GPU stack end to end.
//
// Grounded on the teacher's render/device.go (DeviceHandle, Texture
// interfaces) and backend/backend.go+registry.go (the Init/Close/registry
// pattern), generalized from 2D path rendering to pixel compositing.
package renderer

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// DeviceHandle provides GPU device access from the host application,
// matching the teacher's render.DeviceHandle alias exactly (it is a type
// alias for gpucontext.DeviceProvider, so any host already implementing it
// for the teacher's library needs no adapter to work with cubed).
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle with nil implementations, selecting
// the software compositing path when no GPU device is available.
type NullDeviceHandle struct{}

func (NullDeviceHandle) Device() gpucontext.Device   { return nil }
func (NullDeviceHandle) Queue() gpucontext.Queue     { return nil }
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

var _ DeviceHandle = NullDeviceHandle{}

// TextureView represents a view into a GPU texture used as a composition
// target.
type TextureView interface {
	Destroy()
}

// Texture is a GPU-backed composition surface.
type Texture interface {
	Width() uint32
	Height() uint32
	Format() gputypes.TextureFormat
	CreateView() TextureView
	Destroy()
}
