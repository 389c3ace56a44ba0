package frame

const DefaultCapacity = 100

// Buffer is a fixed-capacity FIFO of frames. Pushing into a full buffer
// evicts the oldest frame. It is not safe for concurrent use; the display
// loop owns it.
type Buffer struct {
	items   []*Frame
	head    int
	size    int
	evicted uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]*Frame, capacity)}
}

// Push appends f and reports whether the oldest frame had to be evicted.
func (b *Buffer) Push(f *Frame) bool {
	if f == nil {
		return false
	}
	capacity := len(b.items)
	if b.size == capacity {
		b.items[b.head] = f
		b.head = (b.head + 1) % capacity
		b.evicted++
		return true
	}
	b.items[(b.head+b.size)%capacity] = f
	b.size++
	return false
}

func (b *Buffer) Pop() (*Frame, bool) {
	if b.size == 0 {
		return nil, false
	}
	f := b.items[b.head]
	b.items[b.head] = nil
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return f, true
}

func (b *Buffer) Clear() {
	for i := range b.items {
		b.items[i] = nil
	}
	b.head = 0
	b.size = 0
}

func (b *Buffer) Len() int {
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.items)
}

func (b *Buffer) Evicted() uint64 {
	return b.evicted
}
