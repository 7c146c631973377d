package executor

// readyQueue is an unbounded FIFO ring of task ids.
// Membership is tracked by the caller (taskEntry.queued), which keeps a task
// from appearing twice.
type readyQueue struct {
	data  []TaskID
	head  int
	count int
}

func newReadyQueue(capacity int) readyQueue {
	if capacity < 1 {
		capacity = 1
	}
	return readyQueue{data: make([]TaskID, capacity)}
}

func (q *readyQueue) push(id TaskID) {
	if q.count == len(q.data) {
		q.resize(len(q.data) * 2)
	}
	q.data[(q.head+q.count)%len(q.data)] = id
	q.count++
}

func (q *readyQueue) pop() (TaskID, bool) {
	if q.count == 0 {
		return 0, false
	}
	id := q.data[q.head]
	q.data[q.head] = 0
	q.head = (q.head + 1) % len(q.data)
	q.count--
	return id, true
}

func (q *readyQueue) len() int {
	return q.count
}

// snapshot returns the queued ids front to back.
func (q *readyQueue) snapshot() []TaskID {
	out := make([]TaskID, q.count)
	for i := range out {
		out[i] = q.data[(q.head+i)%len(q.data)]
	}
	return out
}

func (q *readyQueue) resize(capacity int) {
	next := make([]TaskID, capacity)
	for i := 0; i < q.count; i++ {
		next[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.data = next
	q.head = 0
}
