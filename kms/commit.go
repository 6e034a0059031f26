package kms

import (
	"fmt"
	"hash/crc32"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/internal/drmioctl"
)

// PlaneTask is one entry of a CommitInfo: place buf on plane-bearing output
// pipeIndex, using the given source (buffer-space) and destination
// (CRTC-space) rectangles (spec.md §4.1 "ordered list of plane-states").
type PlaneTask struct {
	Plane                      *Plane
	SrcX, SrcY, SrcW, SrcH     float64
	CrtcX, CrtcY, CrtcW, CrtcH int32
	Zpos                       int
	Alpha                      uint16
	BufWidth, BufHeight        uint32
}

// CommitInfo describes one output's desired frame: its plane tasks plus
// whether the output should be disabled or modeset this frame (spec.md
// §4.2 "per-output assemble scanout-task list").
type CommitInfo struct {
	PipeIndex      int
	Disable        bool
	ModesetPending bool
	Mode           Mode
	Tasks          []PlaneTask
	fbIDs          map[*Plane]uint32
}

// PendingState is the per-output atomic-commit-in-progress object built by
// ScanoutDataAlloc/FillScanoutData and submitted by DoScanout (spec.md §4.1
// scanout_data_alloc/fill_scanout_data/do_scanout).
type PendingState struct {
	pipeline *Pipeline
	info     CommitInfo
	states   []*State
}

// ScanoutDataAlloc allocates an empty PendingState for pipeIndex.
func (s *Scanout) ScanoutDataAlloc(pipeIndex int) (*PendingState, error) {
	p, ok := s.pipelines[pipeIndex]
	if !ok {
		return nil, fmt.Errorf("kms: ScanoutDataAlloc: unknown pipeline %d", pipeIndex)
	}
	return &PendingState{pipeline: p}, nil
}

// FillScanoutData populates ps from info, resolving each PlaneTask's
// buffer into a registered framebuffer ID if it isn't already one (direct
// scanout DMA-BUFs and composed renderer buffers are both already
// Buffer-wrapped by the time they reach here; FillScanoutData only records
// the per-plane geometry State used by DoScanout).
func (s *Scanout) FillScanoutData(ps *PendingState, info CommitInfo, fbIDs map[*Plane]uint32, bufs map[*Plane]*buffer.Buffer) error {
	ps.info = info
	ps.states = ps.states[:0]
	for _, t := range info.Tasks {
		buf := bufs[t.Plane]
		if buf == nil {
			return fmt.Errorf("kms: FillScanoutData: no buffer for plane %d", t.Plane.ID)
		}
		ps.states = append(ps.states, &State{
			Plane: t.Plane, Buf: buf,
			SrcX: t.SrcX, SrcY: t.SrcY, SrcW: t.SrcW, SrcH: t.SrcH,
			CrtcX: t.CrtcX, CrtcY: t.CrtcY, CrtcW: t.CrtcW, CrtcH: t.CrtcH,
			Zpos: t.Zpos, Alpha: t.Alpha,
		})
	}
	ps.info.fbIDs = fbIDs
	return nil
}

// DoScanout builds and submits the atomic commit for ps, following spec.md
// §4.1's algorithm: disable every plane first, then (if modesetting)
// program the CRTC and connector, then program every plane task, then
// submit non-blocking with a page-flip event.
func (s *Scanout) DoScanout(ps *PendingState) error {
	p := ps.pipeline
	var sets []drmioctl.PropertySet
	flags := uint32(drmioctl.ModeAtomicNonblock | drmioctl.ModePageFlipEvent)

	// Step 1: disable every plane currently owned by this pipeline.
	for _, pl := range allPlanes(p) {
		sets = append(sets, s.disablePlaneSet(pl))
	}

	if ps.info.Disable {
		// Step 2: disable the CRTC and connector.
		crtcSet, err := s.crtcDisableSet(p.CrtcID)
		if err != nil {
			return err
		}
		connSet, err := s.connectorDisableSet(p.ConnectorID)
		if err != nil {
			return err
		}
		sets = append(sets, crtcSet, connSet)
		flags |= drmioctl.ModeAtomicAllowModeset
	} else if ps.info.ModesetPending {
		// Step 3: program a modeset.
		blobID, err := s.modeBlob(ps.info.Mode)
		if err != nil {
			return err
		}
		crtcSet, err := s.crtcModesetSet(p.CrtcID, blobID)
		if err != nil {
			return err
		}
		connSet, err := s.connectorEnableSet(p.ConnectorID, p.CrtcID)
		if err != nil {
			return err
		}
		sets = append(sets, crtcSet, connSet)
		flags |= drmioctl.ModeAtomicAllowModeset
	}

	// Step 4: program every plane task.
	for _, st := range ps.states {
		set, err := s.planeCommitSet(st, p.CrtcID, ps.info.fbIDs[st.Plane])
		if err != nil {
			return err
		}
		sets = append(sets, set)
	}

	// Step 5: submit.
	if err := s.dev.Atomic(sets, flags, uint64(p.Index)); err != nil {
		return classifyCommitError(fmt.Sprintf("DoScanout pipeline %d", p.Index), err)
	}

	// Step 6: promote states, mark pending; the previous current map
	// becomes "last" and is released when the page-flip event arrives.
	last := p.current
	next := make(map[uint32]*State, len(ps.states))
	for _, st := range ps.states {
		next[st.Plane.ID] = st
		st.Buf.Ref()
		st.Buf.SetDirty(p.Index)
	}
	p.current = next
	p.pending = true
	p.last = last
	return nil
}

func allPlanes(p *Pipeline) []*Plane {
	out := []*Plane{p.Primary}
	if p.Cursor != nil {
		out = append(out, p.Cursor)
	}
	out = append(out, p.FreePlanes...)
	return out
}

func (s *Scanout) disablePlaneSet(pl *Plane) drmioctl.PropertySet {
	fbID, _ := s.props.resolve(pl.ID, drmioctl.ObjectPlane, "FB_ID")
	crtcID, _ := s.props.resolve(pl.ID, drmioctl.ObjectPlane, "CRTC_ID")
	return drmioctl.PropertySet{ObjID: pl.ID, PropIDs: []uint32{fbID, crtcID}, Values: []uint64{0, 0}}
}

func (s *Scanout) crtcDisableSet(crtcID uint32) (drmioctl.PropertySet, error) {
	active, err := s.props.resolve(crtcID, drmioctl.ObjectCRTC, "ACTIVE")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	modeID, err := s.props.resolve(crtcID, drmioctl.ObjectCRTC, "MODE_ID")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	return drmioctl.PropertySet{ObjID: crtcID, PropIDs: []uint32{active, modeID}, Values: []uint64{0, 0}}, nil
}

func (s *Scanout) connectorDisableSet(connID uint32) (drmioctl.PropertySet, error) {
	crtcID, err := s.props.resolve(connID, drmioctl.ObjectConnector, "CRTC_ID")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	return drmioctl.PropertySet{ObjID: connID, PropIDs: []uint32{crtcID}, Values: []uint64{0}}, nil
}

func (s *Scanout) crtcModesetSet(crtcID, blobID uint32) (drmioctl.PropertySet, error) {
	active, err := s.props.resolve(crtcID, drmioctl.ObjectCRTC, "ACTIVE")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	modeID, err := s.props.resolve(crtcID, drmioctl.ObjectCRTC, "MODE_ID")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	return drmioctl.PropertySet{ObjID: crtcID, PropIDs: []uint32{active, modeID}, Values: []uint64{1, uint64(blobID)}}, nil
}

func (s *Scanout) connectorEnableSet(connID, crtcID uint32) (drmioctl.PropertySet, error) {
	prop, err := s.props.resolve(connID, drmioctl.ObjectConnector, "CRTC_ID")
	if err != nil {
		return drmioctl.PropertySet{}, err
	}
	return drmioctl.PropertySet{ObjID: connID, PropIDs: []uint32{prop}, Values: []uint64{uint64(crtcID)}}, nil
}

func (s *Scanout) planeCommitSet(st *State, crtcID uint32, fbID uint32) (drmioctl.PropertySet, error) {
	names := []string{"FB_ID", "CRTC_ID", "SRC_X", "SRC_Y", "SRC_W", "SRC_H", "CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H"}
	ids := make([]uint32, 0, len(names)+2)
	values := make([]uint64, 0, len(names)+2)
	for _, n := range names {
		id, err := s.props.resolve(st.Plane.ID, drmioctl.ObjectPlane, n)
		if err != nil {
			return drmioctl.PropertySet{}, err
		}
		ids = append(ids, id)
	}
	const fixedPoint = 1 << 16
	values = append(values,
		uint64(fbID), uint64(crtcID),
		uint64(int64(st.SrcX*fixedPoint)), uint64(int64(st.SrcY*fixedPoint)),
		uint64(int64(st.SrcW*fixedPoint)), uint64(int64(st.SrcH*fixedPoint)),
		uint64(int32(st.CrtcX)), uint64(int32(st.CrtcY)),
		uint64(int32(st.CrtcW)), uint64(int32(st.CrtcH)),
	)
	if zposID, err := s.props.resolve(st.Plane.ID, drmioctl.ObjectPlane, "zpos"); err == nil {
		ids = append(ids, zposID)
		values = append(values, uint64(st.Zpos))
	}
	if alphaID, err := s.props.resolve(st.Plane.ID, drmioctl.ObjectPlane, "alpha"); err == nil {
		ids = append(ids, alphaID)
		values = append(values, uint64(st.Alpha))
	}
	return drmioctl.PropertySet{ObjID: st.Plane.ID, PropIDs: ids, Values: values}, nil
}

// modeBlob returns the blob ID for mode, creating it on first use (spec.md
// §4.1 step 3: "create mode blob if absent").
func (s *Scanout) modeBlob(mode Mode) (uint32, error) {
	key := crc32.ChecksumIEEE(mode.blobBytes())
	if id, ok := s.blobCache[key]; ok {
		return id, nil
	}
	id, err := s.dev.CreatePropertyBlob(mode.blobBytes())
	if err != nil {
		return 0, fmt.Errorf("kms: modeBlob: %w", err)
	}
	s.blobCache[key] = id
	return id, nil
}
