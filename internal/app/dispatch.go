package app

import "sync"

// dispatcher runs sink deliveries on one goroutine, in the order they were
// queued, so a slow sink never holds up the frame loop. A full queue blocks
// the sender rather than dropping a delivery.
type dispatcher struct {
	mu     sync.RWMutex
	closed bool
	queue  chan func()
	done   chan struct{}
}

func newDispatcher(size int) *dispatcher {
	q := &dispatcher{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *dispatcher) loop() {
	defer close(q.done)
	for fn := range q.queue {
		fn()
	}
}

// send queues fn. Once the dispatcher is closed fn runs on the caller.
func (q *dispatcher) send(fn func()) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		fn()
		return
	}
	q.queue <- fn
	q.mu.RUnlock()
}

// call queues fn and waits for it to run, after everything queued before it.
func (q *dispatcher) call(fn func() error) error {
	errc := make(chan error, 1)
	q.send(func() { errc <- fn() })
	return <-errc
}

// flush waits until everything queued so far has been delivered.
func (q *dispatcher) flush() {
	q.call(func() error { return nil })
}

// close delivers what is queued and stops the goroutine.
func (q *dispatcher) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()
	<-q.done
}
