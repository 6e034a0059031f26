package view

import (
	"testing"

	"github.com/cube-wm/cubed/output"
)

func outputAt(pipeIndex int, rc Rect) *output.Output {
	o := output.New(pipeIndex, nil, output.WithDesktopRect(rc))
	return o
}

func TestRecomputeOutputMaskIntersectsDesktopRects(t *testing.T) {
	primary := outputAt(0, Rect{X0: 0, Y0: 0, X1: 1920, Y1: 1080})
	secondary := outputAt(1, Rect{X0: 1920, Y0: 0, X1: 3200, Y1: 720})

	v := New(nil, Rect{X0: 1000, Y0: 0, X1: 3048, Y1: 1080})
	mask, diff := v.RecomputeOutputMask([]*output.Output{primary, secondary})

	if mask != 0b11 {
		t.Fatalf("mask = %b, want 0b11", mask)
	}
	if diff != 0b11 {
		t.Fatalf("diff = %b, want 0b11 (from zero)", diff)
	}
}

func TestRecomputeOutputMaskPipeLockedRestricts(t *testing.T) {
	primary := outputAt(0, Rect{X0: 0, Y0: 0, X1: 1920, Y1: 1080})
	secondary := outputAt(1, Rect{X0: 1920, Y0: 0, X1: 3200, Y1: 720})

	v := New(nil, Rect{X0: 1000, Y0: 0, X1: 3048, Y1: 1080})
	v.PipeLocked = 1
	mask, _ := v.RecomputeOutputMask([]*output.Output{primary, secondary})

	if mask != 0b10 {
		t.Fatalf("mask = %b, want 0b10 (restricted to pipe 1)", mask)
	}
}

func TestRecomputeOutputMaskPipeLockedToNonIntersectingOutputIsEmpty(t *testing.T) {
	primary := outputAt(0, Rect{X0: 0, Y0: 0, X1: 1920, Y1: 1080})

	v := New(nil, Rect{X0: 5000, Y0: 5000, X1: 5100, Y1: 5100})
	v.PipeLocked = 0
	mask, _ := v.RecomputeOutputMask([]*output.Output{primary})

	if mask != 0 {
		t.Fatalf("mask = %b, want 0 (restrict, not force)", mask)
	}
}

func TestRecomputeOutputMaskDiffIsXOR(t *testing.T) {
	primary := outputAt(0, Rect{X0: 0, Y0: 0, X1: 1920, Y1: 1080})
	secondary := outputAt(1, Rect{X0: 1920, Y0: 0, X1: 3200, Y1: 720})

	v := New(nil, Rect{X0: 0, Y0: 0, X1: 100, Y1: 100})
	v.RecomputeOutputMask([]*output.Output{primary, secondary}) // mask=0b01

	v.Area = Rect{X0: 1920, Y0: 0, X1: 2020, Y1: 100} // moves fully onto secondary
	mask, diff := v.RecomputeOutputMask([]*output.Output{primary, secondary})

	if mask != 0b10 {
		t.Fatalf("mask = %b, want 0b10", mask)
	}
	if diff != 0b11 {
		t.Fatalf("diff = %b, want 0b11 (old ^ new)", diff)
	}
}

func TestListAddFloatGoesToHead(t *testing.T) {
	l := NewList()
	normal := New(nil, Rect{})
	float := New(nil, Rect{})
	float.Float = true

	l.Add(normal)
	l.Add(float)

	views := l.Views()
	if views[0] != float {
		t.Fatalf("float view should be at head, got %+v", views)
	}
}

func TestListTopViewIsFirstNormal(t *testing.T) {
	l := NewList()
	float := New(nil, Rect{})
	float.Float = true
	normal := New(nil, Rect{})

	l.Add(float)
	l.Add(normal)

	if l.TopView() != normal {
		t.Fatal("expected normal view to be top view")
	}
}

func TestListAddExchangesFocus(t *testing.T) {
	l := NewList()
	v1 := New(nil, Rect{})
	v2 := New(nil, Rect{})

	var v1Events, v2Events []FocusEvent
	v1.Focus.Add(func(e FocusEvent) { v1Events = append(v1Events, e) })
	v2.Focus.Add(func(e FocusEvent) { v2Events = append(v2Events, e) })

	l.Add(v1)
	if len(v1Events) != 1 || !v1Events[0].Gained {
		t.Fatalf("v1 should have gained focus on add, got %+v", v1Events)
	}

	l.Add(v2)
	if len(v1Events) != 2 || v1Events[1].Gained {
		t.Fatalf("v1 should have lost focus when v2 added, got %+v", v1Events)
	}
	if len(v2Events) != 1 || !v2Events[0].Gained {
		t.Fatalf("v2 should have gained focus on add, got %+v", v2Events)
	}
}

func TestListPromoteToFocusReordersAndExchangesFocus(t *testing.T) {
	l := NewList()
	v1 := New(nil, Rect{})
	v2 := New(nil, Rect{})
	v3 := New(nil, Rect{})
	l.Add(v1)
	l.Add(v2)
	l.Add(v3) // top = v3

	var v1Events []FocusEvent
	v1.Focus.Add(func(e FocusEvent) { v1Events = append(v1Events, e) })

	l.PromoteToFocus(v1)

	if l.TopView() != v1 {
		t.Fatalf("expected v1 promoted to top, got %+v", l.TopView())
	}
	if len(v1Events) == 0 || !v1Events[len(v1Events)-1].Gained {
		t.Fatal("v1 should have gained focus after promotion")
	}
}

func TestListPromoteToFocusNoopWhenTopIsDirectShow(t *testing.T) {
	l := NewList()
	top := New(nil, Rect{})
	other := New(nil, Rect{})
	other.DirectShow = true
	l.Add(top)
	l.Add(other) // top = other (direct-show)

	l.PromoteToFocus(top)
	if l.TopView() != other {
		t.Fatal("promotion should be a no-op while top view is direct-show")
	}
}

func TestListHitTestSkipsFloatViews(t *testing.T) {
	l := NewList()
	float := New(nil, Rect{X0: 0, Y0: 0, X1: 1000, Y1: 1000})
	float.Float = true
	normal := New(nil, Rect{X0: 0, Y0: 0, X1: 50, Y1: 50})
	l.Add(normal)
	l.Add(float)

	if got := l.HitTest(10, 10); got != normal {
		t.Fatalf("HitTest should skip float views and find normal, got %+v", got)
	}
}

func TestViewContains(t *testing.T) {
	v := New(nil, Rect{X0: 10, Y0: 10, X1: 20, Y1: 20})
	if !v.Contains(15, 15) {
		t.Fatal("expected (15,15) inside view area")
	}
	if v.Contains(20, 20) {
		t.Fatal("half-open rect should exclude the far edge")
	}
}

func TestReleasePlaneOnEmptySlotReturnsNil(t *testing.T) {
	v := New(nil, Rect{})
	if got := v.ReleasePlane(0); got != nil {
		t.Fatalf("expected nil from empty slot, got %v", got)
	}
}
