package compositor

import (
	"fmt"
	"sync/atomic"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/region"
	"github.com/cube-wm/cubed/view"
)

// ClientCallbacks is the narrow contract package clientagent dispatches
// decoded IPC sub-commands into (spec.md §4.8 "Dispatches decoded
// sub-commands to compositor.Compositor via a narrow
// compositor.ClientCallbacks interface"). Payload interpretation beyond
// the fields listed here (shell sub-command bodies, cursor-commit detail)
// is named-contract-only per the Non-goals.
type ClientCallbacks interface {
	NewClient(agent view.ClientAgent) uint64
	DestroyClient(clientID uint64)

	CreateSurface(clientID uint64, width, height uint32) (surfaceID uint64, err error)
	CreateView(clientID, surfaceID uint64, area region.Rect, zpos int, directShow bool) (viewID uint64, err error)

	ImportSHM(clientID, surfaceID uint64, fd int32, info buffer.Info) (bufferID uint64, err error)
	ImportDMABUF(clientID, surfaceID uint64, fds [buffer.MaxPlanes]int32, info buffer.Info) (bufferID uint64, err error)

	Commit(clientID, surfaceID uint64) error
}

// clientState is everything the compositor tracks per connected client:
// its surfaces and views, keyed by the ids CreateSurface/CreateView handed
// back to clientagent.
type clientState struct {
	agent    view.ClientAgent
	surfaces map[uint64]*view.Surface
	views    map[uint64]*view.View
}

var nextClientID, nextObjectID uint64

func (c *Compositor) clientByID(clientID uint64) *clientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[clientID]
}

// NewClient registers a freshly accepted connection and returns the id
// clientagent uses for every subsequent callback on this connection.
func (c *Compositor) NewClient(agent view.ClientAgent) uint64 {
	id := atomic.AddUint64(&nextClientID, 1)
	c.mu.Lock()
	c.clients[id] = &clientState{agent: agent, surfaces: make(map[uint64]*view.Surface), views: make(map[uint64]*view.View)}
	c.mu.Unlock()
	return id
}

// DestroyClient tears down every surface/view the client owns (spec.md §7
// "fatal-to-connection: ... releasing the agent's surfaces/views/buffers").
func (c *Compositor) DestroyClient(clientID uint64) {
	c.mu.Lock()
	cs, ok := c.clients[clientID]
	delete(c.clients, clientID)
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, v := range cs.views {
		c.removeView(v)
	}
}

// CreateSurface allocates a new client-owned Surface, empty until its
// first commit.
func (c *Compositor) CreateSurface(clientID uint64, width, height uint32) (uint64, error) {
	cs := c.clientByID(clientID)
	if cs == nil {
		return 0, fmt.Errorf("compositor: CreateSurface: unknown client %d", clientID)
	}
	surf := view.NewSurface(cs.agent, width, height)
	id := atomic.AddUint64(&nextObjectID, 1)
	c.mu.Lock()
	cs.surfaces[id] = surf
	c.mu.Unlock()
	return id, nil
}

// CreateView places surfaceID on the desktop, optionally as a direct-show
// view (spec.md §3 View).
func (c *Compositor) CreateView(clientID, surfaceID uint64, area region.Rect, zpos int, directShow bool) (uint64, error) {
	cs := c.clientByID(clientID)
	if cs == nil {
		return 0, fmt.Errorf("compositor: CreateView: unknown client %d", clientID)
	}
	c.mu.Lock()
	surf, ok := cs.surfaces[surfaceID]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("compositor: CreateView: unknown surface %d", surfaceID)
	}
	v := view.New(surf, area)
	v.Zpos = zpos
	v.DirectShow = directShow

	id := atomic.AddUint64(&nextObjectID, 1)
	c.mu.Lock()
	cs.views[id] = v
	c.mu.Unlock()

	c.views.Add(v)
	return id, nil
}

// ImportSHM attaches a client shared-memory region as surfaceID's pending
// buffer (spec.md §4.3 commit_surface's SHM path).
func (c *Compositor) ImportSHM(clientID, surfaceID uint64, fd int32, info buffer.Info) (uint64, error) {
	surf, err := c.surfaceFor(clientID, surfaceID)
	if err != nil {
		return 0, err
	}
	info.Type = buffer.KindSHM
	buf, err := attachSHM(fd, info)
	if err != nil {
		return 0, fmt.Errorf("compositor: ImportSHM: %w", err)
	}
	surf.BufferPending = buf
	return buf.ID, nil
}

// ImportDMABUF registers a client DMA-BUF as surfaceID's pending buffer
// (spec.md §4.1 import_dmabuf, §4.3 commit_dmabuf).
func (c *Compositor) ImportDMABUF(clientID, surfaceID uint64, fds [buffer.MaxPlanes]int32, info buffer.Info) (uint64, error) {
	surf, err := c.surfaceFor(clientID, surfaceID)
	if err != nil {
		return 0, err
	}
	buf, err := c.Scanout.ImportDMABUF(info, fds)
	if err != nil {
		return 0, fmt.Errorf("compositor: ImportDMABUF: %w", err)
	}
	surf.BufferPending = buf
	return buf.ID, nil
}

// Commit runs the renderer or direct-scanout commit path for surfaceID,
// depending on its view's DirectShow flag (spec.md §4.3).
func (c *Compositor) Commit(clientID, surfaceID uint64) error {
	surf, err := c.surfaceFor(clientID, surfaceID)
	if err != nil {
		return err
	}
	if surf.View == nil {
		return fmt.Errorf("compositor: Commit: surface %d has no view", surfaceID)
	}
	if surf.View.DirectShow {
		return c.CommitDMABUF(surf)
	}
	return c.CommitSurface(surf)
}

func (c *Compositor) surfaceFor(clientID, surfaceID uint64) (*view.Surface, error) {
	cs := c.clientByID(clientID)
	if cs == nil {
		return nil, fmt.Errorf("compositor: unknown client %d", clientID)
	}
	c.mu.Lock()
	surf, ok := cs.surfaces[surfaceID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("compositor: unknown surface %d", surfaceID)
	}
	return surf, nil
}

var _ ClientCallbacks = (*Compositor)(nil)
