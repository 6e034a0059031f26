package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/cube-wm/cubed/signal"
)

// Kind identifies how a Buffer's memory was made available to the
// compositor (spec.md §3 BufferInfo.type).
type Kind int

const (
	// KindSHM is a client shared-memory allocation, copied by the renderer
	// during flush-damage (spec.md §4.3 commit_surface step 3).
	KindSHM Kind = iota
	// KindDMA is an imported DMA-BUF, eligible for direct scanout.
	KindDMA
	// KindSurface is a locked front buffer of a GBM-like native surface,
	// produced by the renderer's composition of non-direct-show views.
	KindSurface
)

func (k Kind) String() string {
	switch k {
	case KindSHM:
		return "shm"
	case KindDMA:
		return "dma"
	case KindSurface:
		return "surface"
	default:
		return "unknown"
	}
}

// MaxPlanes bounds the memory planes a multi-planar format can carry
// (matches the 4-plane ceiling DRM's AddFB2 ioctl imposes).
const MaxPlanes = 4

// Info describes the memory backing a Buffer (spec.md §3 BufferInfo).
type Info struct {
	PixFmt  PixelFormat
	Type    Kind
	Width   uint32
	Height  uint32
	Strides [MaxPlanes]uint32
	Offsets [MaxPlanes]uint32
	Sizes   [MaxPlanes]uint32
	// FDs holds one DMA-BUF (or dumb-buffer-exported) file descriptor per
	// memory plane. Unused beyond Planes are left at -1.
	FDs [MaxPlanes]int32
	// Planes is the number of populated entries in Strides/Offsets/Sizes/FDs.
	Planes int
	// ShmName is the POSIX shared-memory object name for KindSHM buffers.
	ShmName string
	// Composed is true for KindSurface buffers produced by the renderer's
	// composition of non-direct-show views, as opposed to a GPU surface
	// front buffer used verbatim for a single direct-show client.
	Composed bool
}

// FlipEvent is the payload delivered to a Buffer's flipped listeners: it
// fires once per output whose atomic commit actually carried the buffer
// (spec.md §4.1 page-flip handler).
type FlipEvent struct {
	OutputIndex int
	Sec         uint32
	USec        uint32
}

// Buffer is the compositor's opaque handle to a pixel-carrying resource
// (spec.md §3). It is reference counted and tracks, per output, whether a
// plane state currently references it (the Dirty bitmask).
//
// Lifecycle (spec.md §3): created with ref=1 by import, shm attach, dumb
// allocation, cursor-BO allocation, or GPU-surface lock-front. Each scanout
// task that references the buffer calls Ref; each completed atomic commit
// that releases it calls Unref. When the ref count drops to 1 the Completed
// signal fires (the resource is handed back to the owning client); when it
// drops to 0 the backing resource is released via the Releaser callback.
type Buffer struct {
	// ID is a process-unique handle assigned at creation, the value
	// echoed in IPC commit acknowledgments (spec.md §6 "COMMIT_OK (echoes
	// buffer id)").
	ID uint64

	// FBID is the DRM framebuffer object id already registered for this
	// buffer's memory (via AddFB2 at import/allocation time), the value
	// scanout task assembly writes into a plane's FB_ID property (spec.md
	// §4.1 step 4). Zero for a buffer that was never registered with KMS.
	FBID uint32

	Info Info

	mu     sync.Mutex
	refCnt int32
	dirty  uint32 // bit i set: a plane on output i currently references this buffer

	// Flipped fires once per output whose page-flip event newly cleared
	// that output's dirty bit (spec.md §4.1).
	Flipped *signal.Signal[FlipEvent]
	// Completed fires when the ref count drops to 1, handing the buffer
	// back to its owning client (spec.md §3).
	Completed *signal.Signal[*Buffer]

	// Releaser is called exactly once, when the ref count drops to 0. It
	// is responsible for closing FDs, freeing GEM handles, or destroying
	// dumb buffers; cubed itself never interprets the DRM handle.
	Releaser func(*Buffer)

	released bool
}

var nextBufferID uint64

// New creates a Buffer with an initial reference count of 1, per the
// lifecycle spec.md §3 describes for every allocation path.
func New(info Info) *Buffer {
	return &Buffer{
		ID:        atomic.AddUint64(&nextBufferID, 1),
		Info:      info,
		refCnt:    1,
		Flipped:   signal.New[FlipEvent](),
		Completed: signal.New[*Buffer](),
	}
}

// RefCount returns the current reference count. Intended for tests and
// diagnostics; production code should not branch on the exact count.
func (b *Buffer) RefCount() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refCnt
}

// Ref increments the reference count. Called when a plane-state
// construction (direct scanout or renderer composition) newly references
// the buffer (spec.md §3).
func (b *Buffer) Ref() {
	b.mu.Lock()
	b.refCnt++
	b.mu.Unlock()
}

// Unref decrements the reference count, firing Completed when it reaches 1
// and invoking Releaser when it reaches 0. Called when a plane state is
// destroyed after its replacing atomic commit's page-flip completes
// (spec.md §4.1 "destroy the last state (releasing refs)").
func (b *Buffer) Unref() {
	b.mu.Lock()
	b.refCnt--
	n := b.refCnt
	already := b.released
	if n == 0 {
		b.released = true
	}
	b.mu.Unlock()

	switch {
	case n == 1:
		b.Completed.Emit(b)
	case n <= 0 && !already:
		if b.Releaser != nil {
			b.Releaser(b)
		}
	}
}

// SetDirty marks the buffer as currently committed to output i (spec.md §3
// "buffer.dirty has bit i set iff a plane on output i currently references
// that buffer").
func (b *Buffer) SetDirty(outputIndex int) {
	b.mu.Lock()
	b.dirty |= 1 << uint(outputIndex)
	b.mu.Unlock()
}

// ClearDirty clears output i's dirty bit, returning whether it had been set.
// The page-flip handler uses the return value to decide whether to fire
// Flipped for that output (spec.md §4.1: "only if its dirty bit for this
// output was set — this both serves as the flipped notification ... and
// clears the bit").
func (b *Buffer) ClearDirty(outputIndex int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	mask := uint32(1) << uint(outputIndex)
	was := b.dirty&mask != 0
	b.dirty &^= mask
	return was
}

// IsDirty reports whether output i's dirty bit is set.
func (b *Buffer) IsDirty(outputIndex int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty&(1<<uint(outputIndex)) != 0
}

// DirtyMask returns the full per-output dirty bitmask.
func (b *Buffer) DirtyMask() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}
