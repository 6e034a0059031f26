package kms

import (
	"encoding/binary"
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/internal/drmioctl"
)

func TestModeRefreshNanosDefaultsTo60Hz(t *testing.T) {
	m := Mode{}
	if got := m.RefreshNanos(); got != 1_000_000_000/60 {
		t.Fatalf("RefreshNanos() = %d, want %d", got, 1_000_000_000/60)
	}
}

func TestModeRefreshNanos75Hz(t *testing.T) {
	m := Mode{VRefresh: 75}
	want := int64(1_000_000_000 / 75)
	if got := m.RefreshNanos(); got != want {
		t.Fatalf("RefreshNanos() = %d, want %d", got, want)
	}
}

func TestModeFromInfoRoundTripsThroughBlobBytes(t *testing.T) {
	info := drmioctl.ModeInfo{
		Clock: 148500, HDisplay: 1920, VDisplay: 1080, VRefresh: 60,
		HSyncStart: 2008, HSyncEnd: 2052, HTotal: 2200,
		VSyncStart: 1084, VSyncEnd: 1089, VTotal: 1125,
	}
	copy(info.Name[:], "1920x1080")

	m := modeFromInfo(info, true)
	if m.Width != 1920 || m.Height != 1080 || m.VRefresh != 60 || !m.Preferred {
		t.Fatalf("modeFromInfo = %+v, unexpected", m)
	}

	blob := m.blobBytes()
	if len(blob) != 4+20+12+32 {
		t.Fatalf("blobBytes length = %d, want %d", len(blob), 4+20+12+32)
	}
	le := binary.LittleEndian
	if le.Uint32(blob[0:]) != 148500 || le.Uint16(blob[4:]) != 1920 || le.Uint16(blob[6:]) != 2008 ||
		le.Uint16(blob[14:]) != 1080 || le.Uint16(blob[20:]) != 1125 || le.Uint32(blob[24:]) != 60 {
		t.Fatalf("blobBytes timings do not match the decoded ModeInfo: % x", blob[:28])
	}
	if got := string(blob[36:45]); got != "1920x1080" {
		t.Fatalf("blobBytes name = %q, want %q", got, "1920x1080")
	}
}

func TestPlaneSupportsFormat(t *testing.T) {
	p := &Plane{Formats: []buffer.PixelFormat{buffer.PixelFormatXRGB8888, buffer.PixelFormatARGB8888}}
	if !p.SupportsFormat(buffer.PixelFormatXRGB8888) {
		t.Fatal("expected XRGB8888 supported")
	}
	if p.SupportsFormat(buffer.PixelFormatNV12) {
		t.Fatal("did not expect NV12 supported")
	}
}

func TestAllPlanesOrdering(t *testing.T) {
	primary := &Plane{ID: 1, Type: PlanePrimary}
	cursor := &Plane{ID: 2, Type: PlaneCursor}
	overlay := &Plane{ID: 3, Type: PlaneOverlay, Zpos: 5}
	p := &Pipeline{Primary: primary, Cursor: cursor, FreePlanes: []*Plane{overlay}}

	got := allPlanes(p)
	if len(got) != 3 || got[0] != primary || got[1] != cursor || got[2] != overlay {
		t.Fatalf("allPlanes() = %+v, unexpected order", got)
	}
}

func TestFillScanoutDataPopulatesStates(t *testing.T) {
	s := &Scanout{pipelines: map[int]*Pipeline{}}
	pipe := &Pipeline{Index: 0, current: map[uint32]*State{}}
	s.pipelines[0] = pipe
	ps, err := s.ScanoutDataAlloc(0)
	if err != nil {
		t.Fatalf("ScanoutDataAlloc: %v", err)
	}

	pl := &Plane{ID: 7}
	buf := buffer.New(buffer.Info{})
	info := CommitInfo{PipeIndex: 0, Tasks: []PlaneTask{{Plane: pl, SrcW: 100, SrcH: 100, CrtcW: 100, CrtcH: 100}}}

	if err := s.FillScanoutData(ps, info, map[*Plane]uint32{pl: 42}, map[*Plane]*buffer.Buffer{pl: buf}); err != nil {
		t.Fatalf("FillScanoutData: %v", err)
	}
	if len(ps.states) != 1 || ps.states[0].Buf != buf || ps.info.fbIDs[pl] != 42 {
		t.Fatalf("unexpected pending state: %+v", ps.states)
	}
}

func TestFillScanoutDataMissingBufferErrors(t *testing.T) {
	s := &Scanout{pipelines: map[int]*Pipeline{0: {Index: 0}}}
	ps, _ := s.ScanoutDataAlloc(0)
	pl := &Plane{ID: 9}
	info := CommitInfo{Tasks: []PlaneTask{{Plane: pl}}}
	if err := s.FillScanoutData(ps, info, nil, nil); err == nil {
		t.Fatal("expected error for missing buffer")
	}
}

func TestClassifyCommitErrorWrapsEBUSYAsTransient(t *testing.T) {
	err := classifyCommitError("test", unix.EBUSY)
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClassifyCommitErrorPassesThroughOtherErrors(t *testing.T) {
	orig := errors.New("boom")
	err := classifyCommitError("test", orig)
	if IsTransient(err) {
		t.Fatal("did not expect a plain error to classify as transient")
	}
	if !errors.Is(err, orig) {
		t.Fatalf("expected classifyCommitError to pass through non-retryable errors unwrapped, got %v", err)
	}
}

func TestClassifyCommitErrorNilIsNil(t *testing.T) {
	if err := classifyCommitError("test", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
