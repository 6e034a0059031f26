package region

import "testing"

func area(rects []Rect) int64 {
	var total int64
	for _, r := range rects {
		total += int64(r.Width()) * int64(r.Height())
	}
	return total
}

func TestUnionRectNonOverlapping(t *testing.T) {
	r := Empty()
	r.UnionRect(NewRect(0, 0, 10, 10))
	r.UnionRect(NewRect(100, 100, 10, 10))
	if len(r.Rects()) != 2 {
		t.Fatalf("len(Rects()) = %d, want 2", len(r.Rects()))
	}
	if area(r.Rects()) != 200 {
		t.Fatalf("area = %d, want 200", area(r.Rects()))
	}
}

func TestUnionRectOverlapDoesNotDoubleCount(t *testing.T) {
	r := Empty()
	r.UnionRect(NewRect(0, 0, 10, 10))  // area 100
	r.UnionRect(NewRect(5, 5, 10, 10))  // overlaps [5,10)x[5,10)=25 with the first
	want := int64(100 + 100 - 25)
	if got := area(r.Rects()); got != want {
		t.Fatalf("area = %d, want %d", got, want)
	}
}

func TestIntersectRect(t *testing.T) {
	r := FromRect(NewRect(0, 0, 100, 100))
	r.IntersectRect(NewRect(50, 50, 100, 100))
	ext := r.Extents()
	if ext != (Rect{50, 50, 100, 100}) {
		t.Fatalf("Extents() = %+v, want {50 50 100 100}", ext)
	}
}

func TestSubtractRectFullyCovered(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10))
	r.SubtractRect(NewRect(0, 0, 10, 10))
	if !r.IsEmpty() {
		t.Fatalf("region should be empty after subtracting itself, got %v", r.Rects())
	}
}

func TestSubtractRectPunchesHole(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10))
	r.SubtractRect(NewRect(2, 2, 4, 4)) // remove a 4x4 hole from the middle-ish
	if area(r.Rects()) != 100-16 {
		t.Fatalf("area after subtract = %d, want %d", area(r.Rects()), 100-16)
	}
	// Every remaining rect must not intersect the removed area.
	hole := NewRect(2, 2, 4, 4)
	for _, b := range r.Rects() {
		if b.Intersects(hole) {
			t.Fatalf("remaining rect %+v still intersects the hole", b)
		}
	}
}

func TestTranslate(t *testing.T) {
	r := FromRect(NewRect(0, 0, 10, 10))
	r.Translate(5, -5)
	want := Rect{5, -5, 15, 5}
	if r.Rects()[0] != want {
		t.Fatalf("Rects()[0] = %+v, want %+v", r.Rects()[0], want)
	}
}

func TestIntersectsAndIntersect(t *testing.T) {
	a := NewRect(0, 0, 10, 10)
	b := NewRect(5, 5, 10, 10)
	if !a.Intersects(b) {
		t.Fatal("expected intersection")
	}
	got := a.Intersect(b)
	want := Rect{5, 5, 10, 10}
	if got != want {
		t.Fatalf("Intersect = %+v, want %+v", got, want)
	}

	c := NewRect(20, 20, 5, 5)
	if a.Intersects(c) {
		t.Fatal("did not expect intersection")
	}
}
