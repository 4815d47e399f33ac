package object

import "sync"

// Signal is a handler-callback broadcaster: subscribing registers a plain
// function rather than a channel, which lets observe_db_info deliver its
// "synchronous initial value" contract directly from Subscribe.
type Signal[T any] struct {
	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
}

// Subscribe registers handler and returns an unsubscribe func.
func (s *Signal[T]) Subscribe(handler func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Emit calls every currently-subscribed handler with v, in an unspecified
// order. Handlers registered by a call to Emit observe only subsequent
// emissions, matching main-lane single-threaded delivery.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	handlers := make([]func(T), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(v)
	}
}
