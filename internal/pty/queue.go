package pty

import "sync"

// outputQueue is an unbounded FIFO of decoded output chunks. The pump is
// the only producer.
type outputQueue struct {
	mu     sync.Mutex
	chunks []string
}

func (q *outputQueue) push(chunk string) {
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()
}

// popAll removes and returns every queued chunk in arrival order.
func (q *outputQueue) popAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	if out == nil {
		return []string{}
	}
	return out
}

func (q *outputQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
