package link

import (
	"container/list"
	"sync"
)

// queues holds the two outbound FIFOs: priority carries control traffic,
// secondary carries the flash state machine's bulk chunk writes/reads. The
// mutex serializes submissions against the Trigger goroutine's draining.
type queues struct {
	mu        sync.Mutex
	priority  *list.List
	secondary *list.List
}

func newQueues() *queues {
	return &queues{priority: list.New(), secondary: list.New()}
}

func (q *queues) pushPriority(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.priority.PushBack(m)
}

func (q *queues) pushSecondary(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.secondary.PushBack(m)
}

// popPriority and popSecondary remove and return the head message, or
// ok=false if the FIFO is empty.
func (q *queues) popPriority() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return pop(q.priority)
}

func (q *queues) popSecondary() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return pop(q.secondary)
}

func pop(l *list.List) (Message, bool) {
	e := l.Front()
	if e == nil {
		return Message{}, false
	}
	l.Remove(e)
	return e.Value.(Message), true
}

// reset discards all queued messages, used by Close.
func (q *queues) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.priority.Init()
	q.secondary.Init()
}
