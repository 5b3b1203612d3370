package session

import "sync"

// oneShot holds the first result delivered to it. Later deliveries are
// refused so the caller can release what it produced.
type oneShot[T any] struct {
	mu      sync.Mutex
	settled bool
	val     T
	err     error
	done    chan struct{}
}

func newOneShot[T any]() *oneShot[T] {
	return &oneShot[T]{done: make(chan struct{})}
}

// settle stores val and err if nothing was stored yet and reports whether it
// did.
func (o *oneShot[T]) settle(val T, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settled {
		return false
	}
	o.settled = true
	o.val, o.err = val, err
	close(o.done)
	return true
}

func (o *oneShot[T]) Done() <-chan struct{} {
	return o.done
}

// Result blocks until the value is settled.
func (o *oneShot[T]) Result() (T, error) {
	<-o.done
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.val, o.err
}
