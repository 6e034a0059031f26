package buffer

import "testing"

func TestNewBufferStartsAtRefOne(t *testing.T) {
	b := New(Info{PixFmt: PixelFormatXRGB8888, Width: 64, Height: 64})
	if got := b.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
}

func TestUnrefToOneFiresCompleted(t *testing.T) {
	b := New(Info{})
	b.Ref() // refCnt now 2, as if a plane state newly references it

	fired := 0
	b.Completed.Add(func(*Buffer) { fired++ })

	b.Unref() // back to 1: should fire Completed
	if fired != 1 {
		t.Fatalf("Completed fired %d times, want 1", fired)
	}
	if got := b.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1", got)
	}
}

func TestUnrefToZeroReleasesExactlyOnce(t *testing.T) {
	b := New(Info{})
	released := 0
	b.Releaser = func(*Buffer) { released++ }

	b.Unref() // refCnt 1 -> 0
	if released != 1 {
		t.Fatalf("Releaser called %d times, want 1", released)
	}
	if got := b.RefCount(); got != 0 {
		t.Fatalf("RefCount() = %d, want 0", got)
	}
}

func TestDirtyBitSetClearIndependentPerOutput(t *testing.T) {
	b := New(Info{})
	b.SetDirty(0)
	b.SetDirty(2)

	if !b.IsDirty(0) || !b.IsDirty(2) {
		t.Fatal("expected outputs 0 and 2 dirty")
	}
	if b.IsDirty(1) {
		t.Fatal("did not expect output 1 dirty")
	}

	if was := b.ClearDirty(0); !was {
		t.Fatal("ClearDirty(0) should report it was set")
	}
	if b.IsDirty(0) {
		t.Fatal("output 0 should no longer be dirty")
	}
	if !b.IsDirty(2) {
		t.Fatal("output 2 should remain dirty after clearing output 0")
	}
}

func TestClearDirtyOnUnsetBitReportsFalse(t *testing.T) {
	b := New(Info{})
	if was := b.ClearDirty(3); was {
		t.Fatal("ClearDirty on a never-set bit should report false")
	}
}

func TestDirtyMaskReflectsAllOutputs(t *testing.T) {
	b := New(Info{})
	b.SetDirty(0)
	b.SetDirty(1)
	b.SetDirty(4)

	want := uint32(1<<0 | 1<<1 | 1<<4)
	if got := b.DirtyMask(); got != want {
		t.Fatalf("DirtyMask() = %b, want %b", got, want)
	}
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New(Info{})
	b := New(Info{})
	if a.ID == b.ID {
		t.Fatalf("expected distinct IDs, both were %d", a.ID)
	}
	if a.ID == 0 || b.ID == 0 {
		t.Fatal("buffer IDs should never be zero")
	}
}

func TestFlippedSignalDeliversOutputIndex(t *testing.T) {
	b := New(Info{})
	var got []int
	b.Flipped.Add(func(ev FlipEvent) { got = append(got, ev.OutputIndex) })

	b.Flipped.Emit(FlipEvent{OutputIndex: 1, Sec: 10, USec: 500})
	b.Flipped.Emit(FlipEvent{OutputIndex: 0, Sec: 10, USec: 600})

	if len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Fatalf("flipped outputs = %v, want [1 0]", got)
	}
}
