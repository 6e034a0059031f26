package renderer

import (
	"errors"
	"sync"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/region"
)

// Common backend errors, named the way the teacher's backend package does
// (backend.ErrBackendNotAvailable / ErrNotInitialized).
var (
	ErrBackendNotAvailable = errors.New("renderer: backend not available")
	ErrNotInitialized      = errors.New("renderer: not initialized")
)

const (
	BackendGPU      = "gpu"
	BackendSoftware = "software"
)

// Surface is a per-output composition target: a buffer.Buffer-producing
// render surface bound to an Output's native window system connection
// (spec.md §4.1 get_surface_buf / §4.2 "run the renderer's repaint against
// this output's native surface").
type Surface interface {
	// Repaint composites views (back to front, already sorted by the
	// caller) into the surface and returns whether anything was drawn. If
	// nothing was drawn (empty view list, or every view fully occluded),
	// drawn is false and no buffer should be allocated (spec.md §4.2 step
	// 2: "if the view list is empty or nothing is drawn, do not allocate
	// a surface buffer").
	Repaint(views []View) (drawn bool, err error)
	// LockFront returns the composited front buffer's description,
	// matching kms.NativeSurface so the output package can hand a
	// renderer Surface straight to Scanout.GetSurfaceBuf.
	LockFront() (info buffer.Info, fds [buffer.MaxPlanes]int32, release func(), err error)
	// Resize reallocates the surface for a new output size (a mode
	// switch).
	Resize(width, height uint32) error
	// Destroy releases the surface's resources.
	Destroy()
}

// View is the minimal per-view data Repaint needs: pixels, placement, and
// stacking order. The compositor's view package builds these from its
// richer View/Surface types; renderer stays decoupled from that package to
// avoid an import cycle.
type View struct {
	Buf    *buffer.Buffer
	Area   region.Rect
	Zpos   int
	Alpha  float32
	Damage *region.Region
}

// Backend creates per-output Surfaces and performs the shared-memory
// attach/flush-damage operations (spec.md's Renderer contract). cubed
// registers exactly two: "gpu" (wgpu-backed, preferred) and "software"
// (golang.org/x/image/draw, always available).
type Backend interface {
	Name() string
	Init(handle DeviceHandle) error
	Close()

	// NewSurface creates a per-output composition surface sized width x
	// height, preferring format if the backend can produce it directly.
	NewSurface(width, height uint32, format buffer.PixelFormat) (Surface, error)

	// AttachBuffer binds a client's pending buffer as a surface's source
	// content (spec.md §4.3 commit_surface step 3: Renderer.attach_buffer).
	AttachBuffer(s *ClientSurface, buf *buffer.Buffer) error
	// FlushDamage copies a SHM buffer's damaged region into the renderer's
	// texture/backing store (spec.md §4.3: Renderer.flush_damage). DMA-BUF
	// sources are composited directly from their importer and need no
	// flush.
	FlushDamage(s *ClientSurface) error
}

// ClientSurface is the subset of the view package's Surface state the
// renderer needs to track per-client content (buffer + damage region),
// again kept local to avoid an import cycle back into view.
type ClientSurface struct {
	ID       uint64
	Pending  *buffer.Buffer
	Damage   *region.Region
	Width    uint32
	Height   uint32

	texture     interface{} // backend-private handle: *softwareTexture or a GPU texture
	lastUploaded *buffer.Buffer
}

// BackendFactory creates a new backend instance, matching the teacher's
// backend.BackendFactory.
type BackendFactory func() Backend

var (
	registryMu      sync.RWMutex
	backends        = make(map[string]BackendFactory)
	backendPriority = []string{BackendGPU, BackendSoftware}
)

// Register registers a backend factory, typically from an init() function
// in the backend's own file (matching the teacher's backend.Register).
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Get returns a new backend instance by name, or nil if unregistered.
func Get(name string) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if f, ok := backends[name]; ok {
		return f()
	}
	return nil
}

// Default returns the highest-priority available backend: GPU first,
// falling back to software so cubed always has a working composition
// path even on a machine without a usable wgpu adapter.
func Default() Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range backendPriority {
		if f, ok := backends[name]; ok {
			if b := f(); b != nil {
				return b
			}
		}
	}
	return nil
}

// Available lists registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	return names
}
