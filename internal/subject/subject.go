// Package subject provides a single-value broadcast channel. Subscribers are
// called with every new value and the latest value can be read at any time.
package subject

import "sync"

// Subscription detaches a subscriber. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Subject holds a latest value and notifies subscribers of changes
type Subject[T any] struct {
	mu     sync.RWMutex
	value  T
	set    bool
	nextID int
	subs   map[int]func(T)
}

// New creates a subject holding an initial value
func New[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial, set: true, subs: make(map[int]func(T))}
}

// Empty creates a subject with no value; subscribers are not called until
// the first Next
func Empty[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]func(T))}
}

// Value returns the latest value and whether one was ever set
func (s *Subject[T]) Value() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

// Get returns the latest value, or the zero value when none was set
func (s *Subject[T]) Get() T {
	v, _ := s.Value()
	return v
}

// Next publishes a value to every subscriber
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	s.value = v
	s.set = true
	fns := make([]func(T), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Subscribe registers fn. If a value is set, fn is called with it
// immediately.
func (s *Subject[T]) Subscribe(fn func(T)) Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	v, set := s.value, s.set
	s.mu.Unlock()

	if set {
		fn(v)
	}
	return &subscription[T]{s: s, id: id}
}

// Subscribers returns the number of active subscribers
func (s *Subject[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

type subscription[T any] struct {
	once sync.Once
	s    *Subject[T]
	id   int
}

func (u *subscription[T]) Unsubscribe() {
	u.once.Do(func() {
		u.s.mu.Lock()
		delete(u.s.subs, u.id)
		u.s.mu.Unlock()
	})
}
