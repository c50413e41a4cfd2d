package relay

import (
	"context"
	"io"
	"sync"
)

// Message is one chunk of device output tagged with the name of the
// backend that produced it.
type Message struct {
	Source string
	Data   []byte
}

// Queue is an unbounded FIFO of messages with any number of producers and
// a single consumer. Put never blocks and never drops data.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends a copy of data to the queue. Empty chunks and puts after
// Close are ignored.
func (q *Queue) Put(source string, data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, Message{Source: source, Data: buf})
	q.mu.Unlock()
	q.wake()
}

// Get blocks until a message is available. It returns false once the
// queue is closed and fully drained, or when ctx is done.
func (q *Queue) Get(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting messages. Messages already queued are still
// returned by Get.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Writer returns an io.Writer that puts everything written to it on the
// queue under the given source label.
func (q *Queue) Writer(source string) io.Writer {
	return queueWriter{q: q, source: source}
}

type queueWriter struct {
	q      *Queue
	source string
}

func (w queueWriter) Write(p []byte) (int, error) {
	w.q.Put(w.source, p)
	return len(p), nil
}
