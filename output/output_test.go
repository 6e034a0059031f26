package output

import (
	"testing"
	"time"
)

func TestMarkDirtyTransitionsNotScheduledToStartFromIdle(t *testing.T) {
	o := New(0, nil)
	o.MarkDirty()
	if o.Status != StartFromIdle {
		t.Fatalf("Status = %v, want StartFromIdle", o.Status)
	}
}

func TestMarkDirtyWhileWaitCompletionSetsRenderableChanged(t *testing.T) {
	o := New(0, nil)
	o.Status = WaitCompletion
	o.MarkDirty()
	if !o.RenderableBufferChanged {
		t.Fatal("expected RenderableBufferChanged = true")
	}
	if o.Status != WaitCompletion {
		t.Fatalf("Status = %v, want unchanged WaitCompletion", o.Status)
	}
}

func TestRunIdleTaskMidFrameSchedulesDeadline(t *testing.T) {
	o := New(0, nil)
	o.Status = StartFromIdle
	refresh := 16 * time.Millisecond
	lastVblank := time.Now()
	now := lastVblank.Add(5 * time.Millisecond) // mid-frame: now - lastVblank < refresh

	o.RunIdleTask(now, lastVblank, refresh)
	if o.Status != Scheduled {
		t.Fatalf("Status = %v, want Scheduled", o.Status)
	}
}

func TestRunIdleTaskPastFrameGoesWaitCompletion(t *testing.T) {
	o := New(0, nil)
	o.Status = StartFromIdle
	refresh := 16 * time.Millisecond
	lastVblank := time.Now().Add(-100 * time.Millisecond)
	now := time.Now()

	o.RunIdleTask(now, lastVblank, refresh)
	if o.Status != WaitCompletion {
		t.Fatalf("Status = %v, want WaitCompletion", o.Status)
	}
}

func TestComputeNextRepaintStepsForwardPastDeadlines(t *testing.T) {
	refresh := 16 * time.Millisecond
	lastFlip := time.Now().Add(-500 * time.Millisecond)
	now := time.Now()

	next := computeNextRepaint(lastFlip, refresh, now)
	if next.Before(now) {
		t.Fatalf("computeNextRepaint returned a deadline in the past: %v < %v", next, now)
	}
}

func TestComputeNextRepaintSnapsOnInsaneValue(t *testing.T) {
	refresh := 16 * time.Millisecond
	lastFlip := time.Now().Add(-10 * time.Second) // way stale
	now := time.Now()

	next := computeNextRepaint(lastFlip, refresh, now)
	if next.Sub(now) > time.Millisecond || now.Sub(next) > time.Millisecond {
		t.Fatalf("expected snap-to-now, got next=%v now=%v", next, now)
	}
}

func TestOnFlipCompleteRenderableChangedReschedules(t *testing.T) {
	o := New(0, nil)
	o.Status = WaitCompletion
	o.RenderableBufferChanged = true

	o.OnFlipComplete(time.Now(), 16*time.Millisecond)
	if o.Status != StartFromIdle {
		t.Fatalf("Status = %v, want StartFromIdle", o.Status)
	}
	if o.RenderableBufferChanged {
		t.Fatal("RenderableBufferChanged should be cleared")
	}
}

func TestOnFlipCompleteNoChangeGoesIdle(t *testing.T) {
	o := New(0, nil)
	o.Status = WaitCompletion
	o.OnFlipComplete(time.Now(), 16*time.Millisecond)
	if o.Status != NotScheduled {
		t.Fatalf("Status = %v, want NotScheduled", o.Status)
	}
}

func TestRepaintDeadlineOKWithinBound(t *testing.T) {
	o := New(0, nil)
	refresh := 16 * time.Millisecond
	flip := time.Now()
	o.OnFlipComplete(flip, refresh)
	if !o.RepaintDeadlineOK(refresh) {
		t.Fatal("expected repaint deadline within bound right after OnFlipComplete")
	}
}
