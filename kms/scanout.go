package kms

import (
	"fmt"
	"sort"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/internal/drmioctl"
)

// Pipeline is the result of pipeline_create (spec.md §4.1): one CRTC, its
// connector, and the planes belonging to it, already split into primary,
// cursor and a zpos-sorted free-overlay list.
type Pipeline struct {
	Index       int
	CrtcID      uint32
	ConnectorID uint32
	Primary     *Plane
	Cursor      *Plane
	FreePlanes  []*Plane

	current map[uint32]*State // plane ID -> state currently on screen
	last    map[uint32]*State // plane ID -> state superseded by a commit still awaiting its page-flip event
	pending bool               // an atomic commit for this pipeline is in flight
}

// Scanout owns the DRM device file descriptor and udev monitor and builds
// and submits atomic commits (spec.md §4.1).
type Scanout struct {
	dev   *drmioctl.Device
	props *propertyCache
	udev  *drmioctl.UdevMonitor

	pipelines map[int]*Pipeline
	blobCache map[uint32]uint32 // mode hash (CRC-32 of blobBytes) -> blob id, lifetime of process

	onFlip func(pipelineIndex int, sec, usec uint32)
}

// Open opens the DRM device node and a udev hot-plug monitor.
func Open(devicePath string) (*Scanout, error) {
	dev, err := drmioctl.Open(devicePath)
	if err != nil {
		return nil, err
	}
	udev, err := drmioctl.NewUdevMonitor()
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &Scanout{
		dev:       dev,
		props:     newPropertyCache(dev),
		udev:      udev,
		pipelines: make(map[int]*Pipeline),
		blobCache: make(map[uint32]uint32),
	}, nil
}

// Close releases the device and monitor.
func (s *Scanout) Close() error {
	s.udev.Close()
	return s.dev.Close()
}

// DeviceFd and UdevFd expose the descriptors the compositor's epoll loop
// registers (spec.md §5).
func (s *Scanout) DeviceFd() uintptr { return s.dev.Fd() }
func (s *Scanout) UdevFd() int       { return s.udev.Fd() }

// ReadUdevEvent reads and parses the next pending hot-plug notification
// from the udev monitor socket (spec.md §4.6 "arrive asynchronously via a
// netlink udev monitor filtered to 'drm'").
func (s *Scanout) ReadUdevEvent() (drmioctl.Event, error) {
	return s.udev.ReadEvent()
}

// Resources re-exports the device's CRTC/connector/encoder enumeration.
func (s *Scanout) Resources() (*drmioctl.Resources, error) { return s.dev.GetResources() }

// ConnectorModes reads a connector's current mode list and connection
// status (spec.md §4.6 hot-plug rescan).
func (s *Scanout) ConnectorModes(connectorID uint32) (connected bool, modes []Mode, err error) {
	c, err := s.dev.GetConnector(connectorID)
	if err != nil {
		return false, nil, err
	}
	modes = make([]Mode, len(c.Modes))
	for i, m := range c.Modes {
		modes[i] = modeFromInfo(m, i == 0)
	}
	return c.Connection == drmioctl.ConnectorConnected, modes, nil
}

// EncoderCrtc resolves a connector's encoder to its bound/possible CRTCs.
func (s *Scanout) EncoderCrtc(encoderID uint32) (crtcID, possibleCrtcs uint32, err error) {
	return s.dev.GetEncoder(encoderID)
}

// PipelineCreate allocates a CRTC+connector pipeline and classifies every
// plane whose possible-CRTCs mask includes pipeIndex into primary, cursor,
// or free overlay (spec.md §4.1 pipeline_create).
func (s *Scanout) PipelineCreate(pipeIndex int, crtcID, connectorID uint32) (*Pipeline, error) {
	planeIDs, err := s.dev.GetPlaneResources()
	if err != nil {
		return nil, fmt.Errorf("kms: PipelineCreate: %w", err)
	}

	p := &Pipeline{Index: pipeIndex, CrtcID: crtcID, ConnectorID: connectorID, current: make(map[uint32]*State)}
	bit := uint32(1) << uint(pipeIndex)

	for _, id := range planeIDs {
		raw, err := s.dev.GetPlane(id)
		if err != nil || raw.PossibleCrtcs&bit == 0 {
			continue
		}
		pl, err := s.buildPlane(raw)
		if err != nil {
			cubed.Logger().Warn("kms: skipping plane", "plane", id, "err", err)
			continue
		}
		switch pl.Type {
		case PlanePrimary:
			if pl.SupportsFormat(buffer.PixelFormatXRGB8888) {
				p.Primary = pl
			}
		case PlaneCursor:
			if pl.SupportsFormat(buffer.PixelFormatARGB8888) {
				p.Cursor = pl
			}
		default:
			p.FreePlanes = append(p.FreePlanes, pl)
		}
	}

	if p.Primary == nil {
		return nil, fmt.Errorf("kms: CRTC %d has no usable XRGB8888 primary plane", crtcID)
	}
	sort.Slice(p.FreePlanes, func(i, j int) bool { return p.FreePlanes[i].Zpos < p.FreePlanes[j].Zpos })

	s.pipelines[pipeIndex] = p
	return p, nil
}

// PipelineDestroy drops bookkeeping for a pipeline, e.g. on permanent
// connector removal.
func (s *Scanout) PipelineDestroy(pipeIndex int) {
	delete(s.pipelines, pipeIndex)
}

func (s *Scanout) buildPlane(raw *drmioctl.Plane) (*Plane, error) {
	typeVal, err := s.propertyValue(raw.ID, drmioctl.ObjectPlane, "type")
	if err != nil {
		return nil, err
	}
	zposVal, zposErr := s.propertyValue(raw.ID, drmioctl.ObjectPlane, "zpos")

	pl := &Plane{ID: raw.ID}
	switch uint32(typeVal) {
	case drmioctl.PlaneTypePrimary:
		pl.Type = PlanePrimary
	case drmioctl.PlaneTypeCursor:
		pl.Type = PlaneCursor
	default:
		pl.Type = PlaneOverlay
	}
	if zposErr == nil {
		pl.Zpos = int(zposVal)
	}

	for _, f := range raw.Formats {
		pf := buffer.PixelFormat(f)
		pl.Formats = append(pl.Formats, pf)
		if pf.HasAlpha() {
			pl.AlphaSupport = true
		}
	}
	if _, err := s.props.resolve(raw.ID, drmioctl.ObjectPlane, "SRC_W"); err == nil {
		pl.ScaleSupport = true
	}
	return pl, nil
}

func (s *Scanout) propertyValue(objID, objType uint32, name string) (uint64, error) {
	propID, err := s.props.resolve(objID, objType, name)
	if err != nil {
		return 0, err
	}
	ids, values, err := s.dev.ObjectProperties(objID, objType)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if id == propID {
			return values[i], nil
		}
	}
	return 0, fmt.Errorf("kms: property %q on object %d vanished", name, objID)
}

// ImportDMABUF resolves a DMA-BUF fd into a GEM handle and registers a
// multi-plane framebuffer, rejecting unsupported pixel formats (spec.md
// §4.1 import_dmabuf).
func (s *Scanout) ImportDMABUF(info buffer.Info, fds [buffer.MaxPlanes]int32) (*buffer.Buffer, error) {
	if info.PixFmt == buffer.PixelFormatInvalid {
		return nil, buffer.ErrUnsupportedFormat(info.PixFmt)
	}

	var handles, pitches, offsets [4]uint32
	for i := 0; i < info.Planes; i++ {
		h, err := s.dev.PrimeFDToHandle(fds[i])
		if err != nil {
			return nil, fmt.Errorf("kms: ImportDMABUF: plane %d: %w", i, err)
		}
		handles[i] = h
		pitches[i] = info.Strides[i]
		offsets[i] = info.Offsets[i]
	}

	fbID, err := s.dev.AddFB2(info.Width, info.Height, uint32(info.PixFmt), handles, pitches, offsets)
	if err != nil {
		return nil, fmt.Errorf("kms: ImportDMABUF: AddFB2: %w", err)
	}

	info.Type = buffer.KindDMA
	b := buffer.New(info)
	b.FBID = fbID
	b.Releaser = func(*buffer.Buffer) {
		s.dev.RmFB(fbID)
	}
	return b, nil
}

// ReleaseDMABUF drops the compositor's reference; the framebuffer and GEM
// handles are released by Buffer's Releaser once ref reaches 0.
func (s *Scanout) ReleaseDMABUF(b *buffer.Buffer) {
	b.Unref()
}

// DumbBufferCreate allocates a driver dumb buffer (spec.md §4.1
// dumb_buffer_create), used for cursor planes and the per-output no-signal
// dummy buffer.
func (s *Scanout) DumbBufferCreate(width, height uint32, format buffer.PixelFormat) (*buffer.Buffer, error) {
	bpp := uint32(32)
	handle, pitch, _, err := s.dev.CreateDumb(width, height, bpp)
	if err != nil {
		return nil, fmt.Errorf("kms: DumbBufferCreate: %w", err)
	}
	fbID, err := s.dev.AddFB2(width, height, uint32(format), [4]uint32{handle}, [4]uint32{pitch}, [4]uint32{})
	if err != nil {
		s.dev.DestroyDumb(handle)
		return nil, fmt.Errorf("kms: DumbBufferCreate: AddFB2: %w", err)
	}

	info := buffer.Info{PixFmt: format, Type: buffer.KindSHM, Width: width, Height: height, Planes: 1}
	info.Strides[0] = pitch
	b := buffer.New(info)
	b.FBID = fbID
	b.Releaser = func(*buffer.Buffer) {
		s.dev.RmFB(fbID)
		s.dev.DestroyDumb(handle)
	}
	return b, nil
}

// DumbBufferDestroy unreferences a dumb buffer created by DumbBufferCreate.
func (s *Scanout) DumbBufferDestroy(b *buffer.Buffer) {
	b.Unref()
}

// CursorBOCreate allocates an ARGB8888 dumb buffer sized for the cursor
// plane.
func (s *Scanout) CursorBOCreate(width, height uint32) (*buffer.Buffer, error) {
	return s.DumbBufferCreate(width, height, buffer.PixelFormatARGB8888)
}

// CursorBODestroy releases a cursor buffer.
func (s *Scanout) CursorBODestroy(b *buffer.Buffer) { b.Unref() }

// CursorBOUpdate is a placeholder for pixel upload into a cursor dumb
// buffer; actual pixel data transfer is the renderer's responsibility
// (mmap of the dumb buffer via DRM_IOCTL_MODE_MAP_DUMB is not implemented
// here since cubed never draws cursor pixels itself, only positions the
// plane the client-agent-supplied cursor surface is attached to).
func (s *Scanout) CursorBOUpdate(b *buffer.Buffer) error {
	return nil
}

// NativeSurface is the contract a GBM-like per-output render surface must
// satisfy for GetSurfaceBuf to lock its front buffer (spec.md §4.1
// get_surface_buf). Adapted from the teacher's render.SurfaceTarget
// contract (render/target.go), narrowed to the single LockFront operation
// cubed's renderer needs.
type NativeSurface interface {
	LockFront() (info buffer.Info, fds [buffer.MaxPlanes]int32, release func(), err error)
}

// GetSurfaceBuf locks ns's front buffer and wraps it as a Buffer whose
// Releaser calls back into the surface's release function when the last
// reference drops, handing the BO back to the swapchain (spec.md §4.1:
// "attaches a destroy callback fired when the underlying bo is
// reclaimed").
func (s *Scanout) GetSurfaceBuf(ns NativeSurface) (*buffer.Buffer, error) {
	info, fds, release, err := ns.LockFront()
	if err != nil {
		return nil, fmt.Errorf("kms: GetSurfaceBuf: %w", err)
	}
	if info.Type == buffer.KindDMA {
		b, err := s.ImportDMABUF(info, fds)
		if err != nil {
			release()
			return nil, err
		}
		inner := b.Releaser
		b.Releaser = func(buf *buffer.Buffer) {
			if inner != nil {
				inner(buf)
			}
			release()
		}
		return b, nil
	}
	info.Composed = true
	b := buffer.New(info)
	b.Releaser = func(*buffer.Buffer) { release() }
	return b, nil
}

// GetClockType reports the clock domain cubed takes page-flip event
// timestamps to be in (spec.md §4.1 get_clock_type). It always returns
// CLOCK_MONOTONIC: the driver's timestamp clock is neither queried nor
// requested at device open.
func (s *Scanout) GetClockType() int32 { return clockMonotonic }

const clockMonotonic = 1 // matches unix.CLOCK_MONOTONIC
