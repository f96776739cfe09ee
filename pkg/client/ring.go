package client

// ring is a fixed-capacity FIFO of replies that evicts the oldest entry.
type ring struct {
	items []Reply
	head  int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]Reply, capacity)}
}

// push appends r and reports whether an older entry was evicted.
func (b *ring) push(r Reply) bool {
	if len(b.items) == 0 {
		return true
	}
	idx := (b.head + b.size) % len(b.items)
	b.items[idx] = r
	if b.size < len(b.items) {
		b.size++
		return false
	}
	b.head = (b.head + 1) % len(b.items)
	return true
}

func (b *ring) snapshot() []Reply {
	out := make([]Reply, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}
