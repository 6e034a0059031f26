package kms

import "github.com/cube-wm/cubed/buffer"

// PlaneType distinguishes the three KMS plane roles (spec.md §4.1
// "separates primary ... and cursor ... stacks remaining overlay planes").
type PlaneType int

const (
	PlaneOverlay PlaneType = iota
	PlanePrimary
	PlaneCursor
)

// Plane is a KMS plane object (spec.md §3 Plane).
type Plane struct {
	ID            uint32
	Type          PlaneType
	Formats       []buffer.PixelFormat
	Zpos          int
	ScaleSupport  bool
	AlphaSupport  bool

	propCRTCID, propFBID, propCRTCX, propCRTCY, propCRTCW, propCRTCH uint32
	propSrcX, propSrcY, propSrcW, propSrcH                           uint32
	propZpos, propAlpha                                              uint32
}

// SupportsFormat reports whether the plane's format list advertises f.
func (p *Plane) SupportsFormat(f buffer.PixelFormat) bool {
	for _, got := range p.Formats {
		if got == f {
			return true
		}
	}
	return false
}

// State is a committed or pending binding of a Plane to a Buffer and its
// source/destination geometry (one entry of a PendingState's plane list).
type State struct {
	Plane  *Plane
	Buf    *buffer.Buffer
	SrcX, SrcY, SrcW, SrcH     float64 // 16.16 fixed point on the wire, float64 here
	CrtcX, CrtcY, CrtcW, CrtcH int32
	Zpos   int
	Alpha  uint16 // 0..0xffff, ALPHA_SRC_PRE_MUL
}

// disabled reports a plane-state that only exists to carry a "turn this
// plane off" instruction in an atomic commit (spec.md §4.1 step 1).
func (s *State) disabled() bool { return s.Buf == nil }
