package clientagent

import (
	"encoding/binary"
	"fmt"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/region"
)

// createSurfaceReq is CB_TAG_CREATE_SURFACE's payload: the client asking
// for a new, empty surface of the given size.
type createSurfaceReq struct {
	Width, Height uint32
}

func decodeCreateSurface(p []byte) (createSurfaceReq, error) {
	if len(p) < 8 {
		return createSurfaceReq{}, fmt.Errorf("clientagent: short create-surface payload")
	}
	return createSurfaceReq{
		Width:  binary.LittleEndian.Uint32(p[0:4]),
		Height: binary.LittleEndian.Uint32(p[4:8]),
	}, nil
}

// createViewReq is CB_TAG_CREATE_VIEW's payload: place an existing surface
// on the desktop (spec.md §3 View).
type createViewReq struct {
	SurfaceID              uint64
	X0, Y0, X1, Y1         int32
	Zpos                   int32
	DirectShow             bool
}

func decodeCreateView(p []byte) (createViewReq, error) {
	if len(p) < 8+16+4+4 {
		return createViewReq{}, fmt.Errorf("clientagent: short create-view payload")
	}
	r := createViewReq{
		SurfaceID: binary.LittleEndian.Uint64(p[0:8]),
		X0:        int32(binary.LittleEndian.Uint32(p[8:12])),
		Y0:        int32(binary.LittleEndian.Uint32(p[12:16])),
		X1:        int32(binary.LittleEndian.Uint32(p[16:20])),
		Y1:        int32(binary.LittleEndian.Uint32(p[20:24])),
		Zpos:      int32(binary.LittleEndian.Uint32(p[24:28])),
	}
	r.DirectShow = binary.LittleEndian.Uint32(p[28:32]) != 0
	return r, nil
}

func (r createViewReq) area() region.Rect {
	return region.NewRect(r.X0, r.Y0, r.X1-r.X0, r.Y1-r.Y0)
}

// createBOReq is CB_TAG_CREATE_BO's payload: import client pixel memory,
// either a single SHM region or up to buffer.MaxPlanes DMA-BUF planes. The
// fd(s) accompany this message out-of-band via SCM_RIGHTS.
type createBOReq struct {
	SurfaceID uint64
	Kind      BOKind
	Info      buffer.Info
}

func decodeCreateBO(p []byte) (createBOReq, error) {
	const fixed = 8 + 4 + 4 + 4 + 4 + 4*buffer.MaxPlanes + 4*buffer.MaxPlanes + 4*buffer.MaxPlanes + 4
	if len(p) < fixed {
		return createBOReq{}, fmt.Errorf("clientagent: short create-bo payload")
	}
	off := 0
	u64 := func() uint64 { v := binary.LittleEndian.Uint64(p[off : off+8]); off += 8; return v }
	u32 := func() uint32 { v := binary.LittleEndian.Uint32(p[off : off+4]); off += 4; return v }

	req := createBOReq{}
	req.SurfaceID = u64()
	req.Kind = BOKind(u32())
	req.Info.PixFmt = buffer.PixelFormat(u32())
	req.Info.Width = u32()
	req.Info.Height = u32()
	req.Info.Planes = int(u32())
	for i := 0; i < buffer.MaxPlanes; i++ {
		req.Info.Strides[i] = u32()
	}
	for i := 0; i < buffer.MaxPlanes; i++ {
		req.Info.Offsets[i] = u32()
	}
	for i := 0; i < buffer.MaxPlanes; i++ {
		req.Info.Sizes[i] = u32()
	}
	return req, nil
}

// commitReq is CB_TAG_COMMIT_INFO's payload, reduced to the one field
// cubed's commit paths need (spec.md §4.3: the surface already carries its
// pending buffer by the time commit arrives).
type commitReq struct {
	SurfaceID uint64
}

func decodeCommit(p []byte) (commitReq, error) {
	v, err := decodeU64(p)
	return commitReq{SurfaceID: v}, err
}

// encodeResult encodes a freshly allocated id as the u64 payload of the
// server's reply to create-surface/create-view/create-bo; the caller wraps
// it in a CB_TAG_RESULT TLV.
func encodeResult(id uint64) []byte { return encodeU64(id) }
