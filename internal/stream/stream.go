// Package stream fans ownership changes out to live subscribers (the SSE
// endpoint) so dashboards can refresh claim badges without polling.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kind of ownership change.
type Kind string

const (
	KindClaimed      Kind = "claimed"
	KindReleased     Kind = "released"
	KindAutoReleased Kind = "auto_released"
	KindGranted      Kind = "access_granted"
	KindRevoked      Kind = "access_revoked"
	KindContract     Kind = "contract_signed"
)

// Event describes one ownership change.
type Event struct {
	Kind        Kind      `json:"kind"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id"`
	RecruiterID string    `json:"recruiter_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

// Stream fan-outs ownership events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Uint64
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs evt to all subscribers. A zero timestamp is set to now.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop rather than block the request path.
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}
