// Package region implements the rectangle-list region type used for
// Surface.damage and Surface.opaque tracking (spec.md §3 names Region as a
// field type without defining it).
//
// Grounded on the API surface of original_source/utils/cube_region.c
// (cb_region_init, cb_region_union_rect, cb_region_intersect,
// cb_region_subtract, cb_region_translate, cb_region_extents). The
// original's banded scanline-merge algorithm is not ported; this package
// keeps the region as a list of non-overlapping rectangles and derives
// Union/Intersect/Subtract from straightforward rectangle clipping, which
// is sufficient for damage accumulation and opaque-region clipping at
// compositor scale (tens of rectangles per frame, not thousands).
package region

// Rect is an axis-aligned rectangle in either output pixel space or the
// 65536x65536 global desktop grid (spec.md §6), half-open: it covers
// [X0,X1) x [Y0,Y1).
type Rect struct {
	X0, Y0, X1, Y1 int32
}

// NewRect constructs a Rect from an origin and size.
func NewRect(x, y, w, h int32) Rect {
	return Rect{X0: x, Y0: y, X1: x + w, Y1: y + h}
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// Width and Height report the rectangle's extent.
func (r Rect) Width() int32  { return r.X1 - r.X0 }
func (r Rect) Height() int32 { return r.Y1 - r.Y0 }

// Intersects reports whether r and o share any area.
func (r Rect) Intersects(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// Intersect returns the overlapping rectangle of r and o. The result is
// Empty if they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X0: max32(r.X0, o.X0), Y0: max32(r.Y0, o.Y0),
		X1: min32(r.X1, o.X1), Y1: min32(r.Y1, o.Y1),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Union returns the bounding rectangle of r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: min32(r.X0, o.X0), Y0: min32(r.Y0, o.Y0),
		X1: max32(r.X1, o.X1), Y1: max32(r.Y1, o.Y1),
	}
}

// Translate returns r shifted by (dx, dy).
func (r Rect) Translate(dx, dy int32) Rect {
	return Rect{X0: r.X0 + dx, Y0: r.Y0 + dy, X1: r.X1 + dx, Y1: r.Y1 + dy}
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// Region is an ordered set of non-overlapping rectangles.
type Region struct {
	rects []Rect
}

// Empty returns a region covering no area.
func Empty() *Region { return &Region{} }

// FromRect returns a region covering exactly rect.
func FromRect(rect Rect) *Region {
	r := &Region{}
	if !rect.Empty() {
		r.rects = []Rect{rect}
	}
	return r
}

// IsEmpty reports whether the region covers no area.
func (r *Region) IsEmpty() bool {
	return len(r.rects) == 0
}

// Rects returns the region's rectangles. The returned slice must not be
// mutated by the caller.
func (r *Region) Rects() []Rect {
	return r.rects
}

// Extents returns the bounding box of every rectangle in the region.
func (r *Region) Extents() Rect {
	var ext Rect
	for _, b := range r.rects {
		ext = ext.Union(b)
	}
	return ext
}

// Copy returns an independent copy of r.
func (r *Region) Copy() *Region {
	out := &Region{rects: make([]Rect, len(r.rects))}
	copy(out.rects, r.rects)
	return out
}

// Clear empties the region in place.
func (r *Region) Clear() {
	r.rects = r.rects[:0]
}

// Translate shifts every rectangle in the region by (dx, dy), in place.
func (r *Region) Translate(dx, dy int32) {
	for i := range r.rects {
		r.rects[i] = r.rects[i].Translate(dx, dy)
	}
}

// UnionRect adds rect to the region, in place, re-normalizing so the
// rectangle list remains non-overlapping.
func (r *Region) UnionRect(rect Rect) {
	if rect.Empty() {
		return
	}
	r.rects = unionInto(r.rects, rect)
}

// Union adds every rectangle of o to r, in place.
func (r *Region) Union(o *Region) {
	for _, b := range o.rects {
		r.UnionRect(b)
	}
}

// unionInto merges rect into an existing non-overlapping rectangle list:
// any part of rect not already covered is appended as one or more pieces.
func unionInto(existing []Rect, rect Rect) []Rect {
	pieces := []Rect{rect}
	for _, e := range existing {
		var next []Rect
		for _, p := range pieces {
			next = append(next, subtractRect(p, e)...)
		}
		pieces = next
		if len(pieces) == 0 {
			break
		}
	}
	return append(existing, pieces...)
}

// IntersectRect clips the region to rect, in place, dropping any piece
// that falls entirely outside it.
func (r *Region) IntersectRect(rect Rect) {
	out := r.rects[:0]
	for _, b := range r.rects {
		if c := b.Intersect(rect); !c.Empty() {
			out = append(out, c)
		}
	}
	r.rects = out
}

// Intersect replaces r with the intersection of r and o, in place.
func (r *Region) Intersect(o *Region) {
	var out []Rect
	for _, a := range r.rects {
		for _, b := range o.rects {
			if c := a.Intersect(b); !c.Empty() {
				out = append(out, c)
			}
		}
	}
	r.rects = out
}

// SubtractRect removes rect's area from the region, in place.
func (r *Region) SubtractRect(rect Rect) {
	var out []Rect
	for _, b := range r.rects {
		out = append(out, subtractRect(b, rect)...)
	}
	r.rects = out
}

// Subtract removes every rectangle of o from r, in place.
func (r *Region) Subtract(o *Region) {
	for _, b := range o.rects {
		r.SubtractRect(b)
	}
}

// subtractRect returns the pieces of a that remain after removing b's
// area, as up to four axis-aligned rectangles (top, bottom, left, right
// bands around the overlap).
func subtractRect(a, b Rect) []Rect {
	overlap := a.Intersect(b)
	if overlap.Empty() {
		return []Rect{a}
	}
	var out []Rect
	if a.Y0 < overlap.Y0 {
		out = append(out, Rect{a.X0, a.Y0, a.X1, overlap.Y0})
	}
	if overlap.Y1 < a.Y1 {
		out = append(out, Rect{a.X0, overlap.Y1, a.X1, a.Y1})
	}
	if a.X0 < overlap.X0 {
		out = append(out, Rect{a.X0, overlap.Y0, overlap.X0, overlap.Y1})
	}
	if overlap.X1 < a.X1 {
		out = append(out, Rect{overlap.X1, overlap.Y0, a.X1, overlap.Y1})
	}
	return out
}
