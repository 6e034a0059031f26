// Package kms implements the atomic-commit scanout engine: plane and mode
// bookkeeping, DMA-BUF/dumb-buffer import, and atomic commit submission
// (spec.md §4.1 Scanout, plus Plane/Mode from §3).
//
// Grounded on original_source/server/drm.c and drm_scanout.c for the
// algorithm (disable-then-enable plane ordering, ALLOW_MODESET handling,
// page-flip-driven state promotion) and on internal/drmioctl for the raw
// ioctl calls. Property-ID lookups are cached with cache.ShardedCache, the
// teacher's generic sharded LRU cache, keyed by "<object id>:<prop name>".
package kms

import (
	"encoding/binary"

	"github.com/cube-wm/cubed/internal/drmioctl"
)

// Mode is one video timing a connector advertises (spec.md §3 Mode).
type Mode struct {
	Width, Height uint16
	VRefresh      uint32
	PixelFreq     uint32 // kHz, "Clock" in drm_mode_modeinfo
	BlobID        uint32 // 0 until CreatePropertyBlob has been called for it
	Preferred     bool
	// Custom marks a mode synthesized by the compositor (not advertised by
	// EDID) that must be preserved across connector re-plugs rather than
	// discarded when the connector's mode list is refreshed.
	Custom bool

	raw rawModeInfo
}

// rawModeInfo holds the full drm_mode_modeinfo payload needed to create the
// MODE_ID property blob, kept alongside the trimmed public fields above.
type rawModeInfo struct {
	clock                                          uint32
	hdisplay, hsyncStart, hsyncEnd, htotal, hskew   uint16
	vdisplay, vsyncStart, vsyncEnd, vtotal, vscan   uint16
	vrefresh, flags, typ                            uint32
	name                                            [32]byte
}

// RefreshNanos returns the nominal frame period derived from vrefresh, used
// by the repaint scheduler to compute next_repaint (spec.md §4.1 step 3:
// "recompute refresh_nsec from the mode timings: 1e12 / refresh_mHz").
func (m Mode) RefreshNanos() int64 {
	if m.VRefresh == 0 {
		return 1_000_000_000 / 60
	}
	return 1_000_000_000 / int64(m.VRefresh)
}

// modeFromInfo converts a decoded drmioctl.ModeInfo into a kms.Mode,
// keeping the raw timing payload for later blob upload.
func modeFromInfo(info drmioctl.ModeInfo, preferred bool) Mode {
	const modePreferredFlag = 1 << 3 // DRM_MODE_TYPE_PREFERRED
	return Mode{
		Width:     info.HDisplay,
		Height:    info.VDisplay,
		VRefresh:  info.VRefresh,
		PixelFreq: info.Clock,
		Preferred: preferred || info.Type&modePreferredFlag != 0,
		raw: rawModeInfo{
			clock: info.Clock,
			hdisplay: info.HDisplay, hsyncStart: info.HSyncStart, hsyncEnd: info.HSyncEnd, htotal: info.HTotal, hskew: info.HSkew,
			vdisplay: info.VDisplay, vsyncStart: info.VSyncStart, vsyncEnd: info.VSyncEnd, vtotal: info.VTotal, vscan: info.VScan,
			vrefresh: info.VRefresh, flags: info.Flags, typ: info.Type, name: info.Name,
		},
	}
}

// blobBytes serializes the mode's raw timings into the exact byte layout
// drm_mode_modeinfo expects, for upload via CreatePropertyBlob to obtain a
// MODE_ID value.
func (m Mode) blobBytes() []byte {
	buf := make([]byte, 4+10*2+4*3+32)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], m.raw.clock)
	le.PutUint16(buf[4:], m.raw.hdisplay)
	le.PutUint16(buf[6:], m.raw.hsyncStart)
	le.PutUint16(buf[8:], m.raw.hsyncEnd)
	le.PutUint16(buf[10:], m.raw.htotal)
	le.PutUint16(buf[12:], m.raw.hskew)
	le.PutUint16(buf[14:], m.raw.vdisplay)
	le.PutUint16(buf[16:], m.raw.vsyncStart)
	le.PutUint16(buf[18:], m.raw.vsyncEnd)
	le.PutUint16(buf[20:], m.raw.vtotal)
	le.PutUint16(buf[22:], m.raw.vscan)
	le.PutUint32(buf[24:], m.raw.vrefresh)
	le.PutUint32(buf[28:], m.raw.flags)
	le.PutUint32(buf[32:], m.raw.typ)
	copy(buf[36:], m.raw.name[:])
	return buf
}
