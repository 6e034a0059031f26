package renderer

import (
	"github.com/cube-wm/cubed/buffer"
	"github.com/gogpu/gputypes"
)

// ToTextureFormat maps a buffer.PixelFormat to the gputypes.TextureFormat
// the GPU backend allocates for it (SPEC_FULL.md §6 pixel format mapping).
// Formats with no direct GPU texture equivalent (the multi-plane YUV
// formats) are composited via the software path instead.
func ToTextureFormat(f buffer.PixelFormat) (gputypes.TextureFormat, bool) {
	switch f {
	case buffer.PixelFormatARGB8888:
		return gputypes.TextureFormatBGRA8Unorm, true
	case buffer.PixelFormatXRGB8888:
		return gputypes.TextureFormatBGRA8Unorm, true
	case buffer.PixelFormatRGB565:
		return gputypes.TextureFormatRGBA8Unorm, true
	default:
		return gputypes.TextureFormatUndefined, false
	}
}
