// Package stream is a multicast channel of inbound change events. It is not
// tied to any socket: consumers subscribe once and keep receiving across
// reconnects and scope switches. There is no buffering or replay.
package stream

import (
	"sync"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type Handler func(model.ChangeEvent)

type subscriber struct {
	id      uint64
	handler Handler
}

type Stream struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func New() *Stream {
	return &Stream{}
}

// Subscribe registers handler and returns a function that removes it.
// Handlers run synchronously on the publisher's goroutine, in subscription
// order.
func (s *Stream) Subscribe(handler Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, handler: handler})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Stream) Publish(event model.ChangeEvent) {
	s.mu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
