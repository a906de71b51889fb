package tickqueue

// DefaultCapacity bounds how far the predictive path may run ahead.
const DefaultCapacity = 8

// Tick is one decoded frame of server content.
type Tick struct {
	// Seq numbers ticks in arrival order starting at 1 for the session. It keeps
	// counting across reconnects so capture bundles stay gap free.
	Seq  uint64
	Data []byte
}

// Len returns the decoded length.
func (t Tick) Len() int { return len(t.Data) }

// Queue is a fixed-capacity FIFO ring of ticks. Neither operation blocks.
type Queue struct {
	ring  []Tick
	head  int
	tail  int
	count int
}

// New allocates a queue holding at most capacity ticks.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ring: make([]Tick, capacity)}
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return len(q.ring) }

// Len returns the number of queued ticks.
func (q *Queue) Len() int { return q.count }

// Full reports whether Push would be refused.
func (q *Queue) Full() bool { return q.count == len(q.ring) }

// Push appends t and reports false without side effects when the queue is full.
func (q *Queue) Push(t Tick) bool {
	if q.Full() {
		return false
	}
	q.ring[q.tail] = t
	q.tail = (q.tail + 1) % len(q.ring)
	q.count++
	return true
}

// Pop removes and returns the oldest tick.
func (q *Queue) Pop() (Tick, bool) {
	if q.count == 0 {
		return Tick{}, false
	}
	t := q.ring[q.head]
	q.ring[q.head] = Tick{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return t, true
}

// Each visits queued ticks oldest first without removing them.
func (q *Queue) Each(fn func(Tick) error) error {
	for i := 0; i < q.count; i++ {
		if err := fn(q.ring[(q.head+i)%len(q.ring)]); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every queued tick.
func (q *Queue) Clear() {
	for i := range q.ring {
		q.ring[i] = Tick{}
	}
	q.head, q.tail, q.count = 0, 0, 0
}
