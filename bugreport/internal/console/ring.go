package console

// ring is a fixed-capacity FIFO buffer. When full, pushing evicts the
// oldest entry silently.
type ring[T any] struct {
	cap     int
	entries []T
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{cap: capacity}
}

func (r *ring[T]) push(v T) {
	r.entries = append(r.entries, v)
	if len(r.entries) > r.cap {
		r.entries = r.entries[1:]
	}
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *ring[T]) clear() {
	r.entries = nil
}

func (r *ring[T]) len() int {
	return len(r.entries)
}
