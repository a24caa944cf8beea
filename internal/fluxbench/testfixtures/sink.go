// Package testfixtures holds helpers shared by the fluxbench package tests.
package testfixtures

import (
	"sync"

	"github.com/G-Research/fluxbench/internal/fluxbench/metrics"
)

// RecordingSink keeps every emitted event in order.
type RecordingSink struct {
	mu     sync.Mutex
	events []metrics.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Emit(event metrics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *RecordingSink) Events() []metrics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metrics.Event{}, s.events...)
}

func (s *RecordingSink) Names() []metrics.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]metrics.EventName, 0, len(s.events))
	for _, e := range s.events {
		names = append(names, e.Name)
	}
	return names
}

func (s *RecordingSink) Count(name metrics.EventName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
