package view

// List is the single ordered stack of views spec.md §4.4 describes: float
// views always precede normal views; within the normal section, views are
// ordered by recency of focus. The first non-float view is the "top view"
// (GLOSSARY "Top view").
//
// List is not safe for concurrent use; like the rest of cubed it is driven
// entirely from the event-loop goroutine.
type List struct {
	views []*View // float views first, then normal views
}

// NewList creates an empty view list.
func NewList() *List {
	return &List{}
}

// Views returns the list's current order, top of stack first. The
// returned slice must not be retained across a mutating call.
func (l *List) Views() []*View {
	return l.views
}

// firstNormalIndex returns the index of the first non-float view, or
// len(l.views) if every view is float (or the list is empty).
func (l *List) firstNormalIndex() int {
	for i, v := range l.views {
		if !v.Float {
			return i
		}
	}
	return len(l.views)
}

// TopView returns the frontmost normal view, or nil if there is none
// (spec.md §8 testable property #5).
func (l *List) TopView() *View {
	i := l.firstNormalIndex()
	if i >= len(l.views) {
		return nil
	}
	return l.views[i]
}

// Add inserts v into the list: float views are pushed to the head; normal
// views are inserted immediately before the first existing normal view
// (spec.md §4.4 add_view). The added view becomes the top view if it is
// normal, exchanging focus messages with the previous top view.
func (l *List) Add(v *View) {
	prevTop := l.TopView()

	if v.Float {
		l.views = append([]*View{v}, l.views...)
	} else {
		i := l.firstNormalIndex()
		l.views = append(l.views, nil)
		copy(l.views[i+1:], l.views[i:len(l.views)-1])
		l.views[i] = v
	}

	newTop := l.TopView()
	exchangeFocus(prevTop, newTop)
}

// Remove removes v from the list, if present.
func (l *List) Remove(v *View) {
	for i, cur := range l.views {
		if cur == v {
			prevTop := l.TopView()
			l.views = append(l.views[:i], l.views[i+1:]...)
			newTop := l.TopView()
			if prevTop != newTop {
				exchangeFocus(prevTop, newTop)
			}
			return
		}
	}
}

// PromoteToFocus moves v to the top of the normal section, as spec.md
// §4.4's pointer-down/touch-down resolution does, and exchanges focus
// messages if the top view actually changed. Direct-show top views do not
// participate in reordering (spec.md §4.4: "Direct-show top views do not
// participate in this reordering") — if the current top view is
// direct-show, PromoteToFocus is a no-op.
func (l *List) PromoteToFocus(v *View) {
	if v == nil || v.Float {
		return
	}
	prevTop := l.TopView()
	if prevTop != nil && prevTop.DirectShow {
		return
	}
	if prevTop == v {
		return
	}

	idx := -1
	for i, cur := range l.views {
		if cur == v {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	l.views = append(l.views[:idx], l.views[idx+1:]...)
	i := l.firstNormalIndex()
	l.views = append(l.views, nil)
	copy(l.views[i+1:], l.views[i:len(l.views)-1])
	l.views[i] = v

	newTop := l.TopView()
	exchangeFocus(prevTop, newTop)
}

// HitTest resolves which normal view contains (x, y) in global desktop
// coordinates, searching topmost-first (spec.md §4.4 pointer-down
// resolution). Float views are skipped: only normal views participate in
// focus promotion.
func (l *List) HitTest(x, y int32) *View {
	for _, v := range l.views {
		if v.Float {
			continue
		}
		if v.Contains(x, y) {
			return v
		}
	}
	return nil
}

func exchangeFocus(prevTop, newTop *View) {
	if prevTop == newTop {
		return
	}
	if prevTop != nil {
		prevTop.Focus.Emit(FocusEvent{Gained: false})
	}
	if newTop != nil {
		newTop.Focus.Emit(FocusEvent{Gained: true})
	}
}
