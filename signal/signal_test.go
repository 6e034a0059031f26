package signal

import "testing"

func TestEmitOrder(t *testing.T) {
	s := New[int]()
	var got []int
	s.Add(func(v int) { got = append(got, v*10) })
	s.Add(func(v int) { got = append(got, v*100) })

	s.Emit(1)

	want := []int{10, 100}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Emit order = %v, want %v", got, want)
	}
}

func TestRemoveStopsDelivery(t *testing.T) {
	s := New[string]()
	calls := 0
	tok := s.Add(func(string) { calls++ })

	s.Emit("a")
	s.Remove(tok)
	s.Emit("b")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New[int]()
	tok := s.Add(func(int) {})
	s.Remove(tok)
	s.Remove(tok) // must not panic
	s.Remove(Token{})
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestListenerRemovingItselfDuringEmit(t *testing.T) {
	s := New[int]()
	var tok Token
	tok = s.Add(func(int) { s.Remove(tok) })
	calls := 0
	s.Add(func(int) { calls++ })

	s.Emit(1)
	s.Emit(2)

	if calls != 2 {
		t.Fatalf("second listener calls = %d, want 2", calls)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() after self-removal = %d, want 1", s.Len())
	}
}
