package app

// History keeps the newest values of one live series (RSSI, distance) for
// the sparklines, dropping the oldest once full.
type History[T any] struct {
	vals []T
	next int
	full bool
}

func NewHistory[T any](size int) *History[T] {
	return &History[T]{vals: make([]T, size)}
}

func (h *History[T]) Push(v T) {
	h.vals[h.next] = v
	h.next++
	if h.next == len(h.vals) {
		h.next = 0
		h.full = true
	}
}

// Values returns the series oldest first, nil when empty.
func (h *History[T]) Values() []T {
	if !h.full {
		if h.next == 0 {
			return nil
		}
		return append([]T(nil), h.vals[:h.next]...)
	}
	return append(append([]T(nil), h.vals[h.next:]...), h.vals[:h.next]...)
}

// Last returns the newest value; ok is false when nothing was pushed.
func (h *History[T]) Last() (v T, ok bool) {
	if !h.full && h.next == 0 {
		return v, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.vals) - 1
	}
	return h.vals[i], true
}

func (h *History[T]) Len() int {
	if h.full {
		return len(h.vals)
	}
	return h.next
}

func (h *History[T]) Reset() {
	h.next = 0
	h.full = false
}
