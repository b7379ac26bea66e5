package service

import "sync"

const keyQueueBuffer = 64

// KeyQueue runs submitted work serially per key while letting distinct keys
// proceed concurrently. The relay uses it keyed by source channel id so one
// slow channel cannot reorder or stall another channel's messages.
type KeyQueue struct {
	mu     sync.Mutex
	queues map[string]chan func()
	wg     sync.WaitGroup
	closed bool
}

func NewKeyQueue() *KeyQueue {
	return &KeyQueue{queues: make(map[string]chan func())}
}

// Submit enqueues fn behind everything already queued for key. It blocks when
// the key's queue is full, which backpressures the event loop instead of
// dropping work. Submit after Close is a no-op.
func (q *KeyQueue) Submit(key string, fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	queue, ok := q.queues[key]
	if !ok {
		queue = make(chan func(), keyQueueBuffer)
		q.queues[key] = queue
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for work := range queue {
				work()
			}
		}()
	}
	q.mu.Unlock()

	queue <- fn
}

// Close stops accepting work and waits for every queued item to finish.
func (q *KeyQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, queue := range q.queues {
		close(queue)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
