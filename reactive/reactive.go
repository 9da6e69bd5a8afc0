package reactive

import "sync"

// Subscriber receives values published after it subscribed.
type Subscriber[T any] struct {
	c         chan T
	once      sync.Once
	container *Observable[T]
}

// Cancel removes subscriber from container and closes its channel.
// Not calling this method may result in memory leak.
func (s *Subscriber[T]) Cancel() {
	s.container.delete(s)
	s.close()
}

// Channel returns channel that can be used to read from observable.
// The channel is closed on Cancel or when the observable is closed.
func (s *Subscriber[T]) Channel() <-chan T {
	return s.c
}

func (s *Subscriber[T]) close() {
	s.once.Do(func() { close(s.c) })
}

// Observable creates a container for subscribers.
// This works in single producer multiple consumer pattern.
// A subscriber with a full buffer misses the value instead of blocking the producer.
type Observable[T any] struct {
	mux         sync.RWMutex
	subscribers map[*Subscriber[T]]struct{}
	size        int
	closed      bool
}

// New creates Observable container that holds channels for all subscribers.
// size is the buffer size of each channel.
func New[T any](size int) *Observable[T] {
	return &Observable[T]{
		subscribers: make(map[*Subscriber[T]]struct{}),
		size:        size,
	}
}

// Subscribe subscribes to the container.
// Subscribing to closed container returns subscriber with closed channel.
func (o *Observable[T]) Subscribe() *Subscriber[T] {
	sub := &Subscriber[T]{
		c:         make(chan T, o.size),
		container: o,
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.closed {
		sub.close()
		return sub
	}
	o.subscribers[sub] = struct{}{}
	return sub
}

// Publish publishes value to all subscribers and returns the number of subscribers that missed it.
func (o *Observable[T]) Publish(v T) int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	var missed int
	for sub := range o.subscribers {
		select {
		case sub.c <- v:
		default:
			missed++
		}
	}
	return missed
}

// Len returns number of active subscribers.
func (o *Observable[T]) Len() int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return len(o.subscribers)
}

// Close closes every subscriber channel, following subscriptions are closed immediately.
func (o *Observable[T]) Close() {
	o.mux.Lock()
	defer o.mux.Unlock()
	o.closed = true
	for sub := range o.subscribers {
		sub.close()
		delete(o.subscribers, sub)
	}
}

func (o *Observable[T]) delete(s *Subscriber[T]) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.subscribers, s)
}
