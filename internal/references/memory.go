package references

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byToken map[string]*Request
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byToken: make(map[string]*Request)}
}

func copyRequest(r *Request) Request {
	out := *r
	out.Questions = append([]string(nil), r.Questions...)
	out.Answers = append([]Answer(nil), r.Answers...)
	if r.ReminderSentAt != nil {
		v := *r.ReminderSentAt
		out.ReminderSentAt = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

func (s *MemoryStore) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if r.ID == "" || r.Token == "" {
		return Request{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyRequest(&r)
	s.byToken[r.Token] = &stored
	return copyRequest(&stored), nil
}

func (s *MemoryStore) GetRequestByToken(ctx context.Context, token string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byToken[token]
	if !ok {
		return Request{}, ErrNotFound
	}
	return copyRequest(r), nil
}

func (s *MemoryStore) CompleteRequest(ctx context.Context, token string, answers []Answer, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byToken[token]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusCompleted
	r.Answers = append([]Answer(nil), answers...)
	r.CompletedAt = &at
	return true, nil
}

func (s *MemoryStore) ListDueReminders(ctx context.Context, sentBefore time.Time) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, r := range s.byToken {
		if r.Status == StatusPending && r.ReminderSentAt == nil && r.LastSentAt.Before(sentBefore) {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byToken {
		if r.ID != id {
			continue
		}
		if r.Status != StatusPending || r.ReminderSentAt != nil {
			return false, nil
		}
		r.ReminderSentAt = &at
		return true, nil
	}
	return false, ErrNotFound
}

func (s *MemoryStore) ExpireUnanswered(ctx context.Context, sentBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.byToken {
		if r.Status == StatusPending && r.ReminderSentAt != nil && r.LastSentAt.Before(sentBefore) {
			r.Status = StatusNoResponse
			n++
		}
	}
	return n, nil
}

// DeleteByCandidate removes every request for candidateID and returns how
// many were removed.
func (s *MemoryStore) DeleteByCandidate(ctx context.Context, candidateID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, r := range s.byToken {
		if r.CandidateID == candidateID {
			delete(s.byToken, token)
			n++
		}
	}
	return n
}
