package queue

// Ring is a fixed-capacity FIFO of pending messages. Slots are allocated once
// in New; Push on a full ring evicts the oldest entry first.
//
// Ring is not safe for concurrent use.
type Ring struct {
	slots []Message
	head  int
	count int
}

// New returns a ring holding at most capacity messages.
func New(capacity int) *Ring {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring{slots: make([]Message, capacity)}
}

// Push appends m at the tail. When the ring is full the head is evicted and
// returned with evicted=true. ok is false only for a zero-capacity ring.
func (r *Ring) Push(m Message) (old Message, evicted bool, ok bool) {
	if len(r.slots) == 0 {
		return Message{}, false, false
	}
	if r.count == len(r.slots) {
		old = r.slots[r.head]
		r.slots[r.head] = Message{}
		r.head = (r.head + 1) % len(r.slots)
		r.count--
		evicted = true
	}
	tail := (r.head + r.count) % len(r.slots)
	r.slots[tail] = m
	r.count++
	return old, evicted, true
}

// Head returns the oldest message in place, or nil when empty. The pointer is
// valid until the next Push or Pop.
func (r *Ring) Head() *Message {
	if r.count == 0 {
		return nil
	}
	return &r.slots[r.head]
}

// Pop removes and returns the oldest message.
func (r *Ring) Pop() (Message, bool) {
	if r.count == 0 {
		return Message{}, false
	}
	m := r.slots[r.head]
	r.slots[r.head] = Message{} // release text for GC
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	return m, true
}

func (r *Ring) Len() int { return r.count }
func (r *Ring) Cap() int { return len(r.slots) }

// Snapshot copies pending messages oldest first (diagnostics only).
func (r *Ring) Snapshot() []Message {
	out := make([]Message, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(r.head+i)%len(r.slots)])
	}
	return out
}
