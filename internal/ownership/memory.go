package ownership

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements every ownership store in process. A single mutex
// makes each conditional write a compare-and-set.
type MemoryStore struct {
	mu         sync.RWMutex
	candidates map[string]*Candidate
	clients    map[string]*Client
	grants     map[string]AccessGrant
	activity   map[activityKey][]ActivityEntry
}

type activityKey struct {
	kind EntityKind
	id   string
}

var (
	_ CandidateStore = (*MemoryStore)(nil)
	_ ClientStore    = (*MemoryStore)(nil)
	_ GrantStore     = (*MemoryStore)(nil)
	_ ActivityStore  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candidates: make(map[string]*Candidate),
		clients:    make(map[string]*Client),
		grants:     make(map[string]AccessGrant),
		activity:   make(map[activityKey][]ActivityEntry),
	}
}

func copyCandidate(c *Candidate) Candidate {
	out := *c
	out.OwnedAt = cloneTime(c.OwnedAt)
	out.ExclusiveUntil = cloneTime(c.ExclusiveUntil)
	out.LastTwoWayContact = cloneTime(c.LastTwoWayContact)
	return out
}

func copyClient(c *Client) Client {
	out := *c
	out.OwnedAt = cloneTime(c.OwnedAt)
	out.FirstOutboundAt = cloneTime(c.FirstOutboundAt)
	out.TwoWayEstablishedAt = cloneTime(c.TwoWayEstablishedAt)
	out.ContractSignedAt = cloneTime(c.ContractSignedAt)
	out.LastTwoWayAt = cloneTime(c.LastTwoWayAt)
	return out
}

func (s *MemoryStore) CreateCandidate(ctx context.Context, c Candidate) (Candidate, error) {
	if c.ID == "" {
		return Candidate{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyCandidate(&c)
	s.candidates[c.ID] = &stored
	return copyCandidate(&stored), nil
}

func (s *MemoryStore) GetCandidate(ctx context.Context, id string) (Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	return copyCandidate(c), nil
}

func (s *MemoryStore) DeleteCandidate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[id]; !ok {
		return ErrNotFound
	}
	delete(s.candidates, id)
	delete(s.activity, activityKey{EntityCandidate, id})
	return nil
}

func (s *MemoryStore) SetCandidateOwner(ctx context.Context, id string, guard CandidateGuard, owner string, ownedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.OwnedBy != guard.Owner {
		return false, nil
	}
	if guard.CheckContact && !sameTime(c.LastTwoWayContact, guard.LastTwoWay) {
		return false, nil
	}
	c.OwnedBy = owner
	if owner == "" {
		c.OwnedAt = nil
	} else {
		c.OwnedAt = cloneTime(ownedAt)
	}
	return true, nil
}

func (s *MemoryStore) TouchCandidateContact(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return ErrNotFound
	}
	c.LastTwoWayContact = timePtr(at)
	return nil
}

func (s *MemoryStore) ListStaleClaims(ctx context.Context, claimedBefore time.Time) ([]Candidate, error) {
	return s.listCandidates(func(c *Candidate) bool {
		return c.OwnedBy != "" && c.LastTwoWayContact == nil && c.OwnedAt != nil && c.OwnedAt.Before(claimedBefore)
	}), nil
}

func (s *MemoryStore) ListStaleOwnership(ctx context.Context, contactBefore time.Time) ([]Candidate, error) {
	return s.listCandidates(func(c *Candidate) bool {
		return c.OwnedBy != "" && c.LastTwoWayContact != nil && c.LastTwoWayContact.Before(contactBefore)
	}), nil
}

func (s *MemoryStore) listCandidates(match func(*Candidate) bool) []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Candidate
	for _, c := range s.candidates {
		if match(c) {
			out = append(out, copyCandidate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ClearExpiredExclusive(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.candidates {
		if c.ExclusiveUntil != nil && c.ExclusiveUntil.Before(now) {
			c.ExclusiveUntil = nil
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateClient(ctx context.Context, c Client) (Client, error) {
	if c.ID == "" {
		return Client{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyClient(&c)
	s.clients[c.ID] = &stored
	return copyClient(&stored), nil
}

func (s *MemoryStore) GetClient(ctx context.Context, id string) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	return copyClient(c), nil
}

func (s *MemoryStore) ClaimClient(ctx context.Context, id string, guard ClientGuard, owner string, at time.Time, revokeGrants bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.OwnedBy != guard.Owner || !sameTime(c.OwnedAt, guard.OwnedAt) {
		return false, nil
	}
	c.OwnedBy = owner
	c.OwnedAt = timePtr(at)
	clearMilestones(c)
	if revokeGrants {
		s.deleteGrantsLocked(id)
	}
	return true, nil
}

func (s *MemoryStore) ReleaseClient(ctx context.Context, id, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.OwnedBy == "" || c.OwnedBy != owner {
		return false, nil
	}
	c.OwnedBy = ""
	c.OwnedAt = nil
	clearMilestones(c)
	s.deleteGrantsLocked(id)
	return true, nil
}

func (s *MemoryStore) ApplyClientMilestones(ctx context.Context, id, owner string, m Milestones) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.OwnedBy == "" || c.OwnedBy != owner {
		return false, nil
	}
	if c.FirstOutboundAt == nil && m.FirstOutboundAt != nil {
		c.FirstOutboundAt = cloneTime(m.FirstOutboundAt)
	}
	if m.TwoWayAt != nil {
		if c.TwoWayEstablishedAt == nil {
			c.TwoWayEstablishedAt = cloneTime(m.TwoWayAt)
		}
		c.LastTwoWayAt = cloneTime(m.TwoWayAt)
	}
	if c.ContractSignedAt == nil && m.ContractSignedAt != nil {
		c.ContractSignedAt = cloneTime(m.ContractSignedAt)
	}
	return true, nil
}

func clearMilestones(c *Client) {
	c.FirstOutboundAt = nil
	c.TwoWayEstablishedAt = nil
	c.ContractSignedAt = nil
	c.LastTwoWayAt = nil
}

func (s *MemoryStore) deleteGrantsLocked(clientID string) {
	for id, g := range s.grants {
		if g.ClientID == clientID {
			delete(s.grants, id)
		}
	}
}

func (s *MemoryStore) InsertGrant(ctx context.Context, g AccessGrant) (AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[g.ClientID]; !ok {
		return AccessGrant{}, ErrNotFound
	}
	for _, existing := range s.grants {
		if existing.ClientID == g.ClientID && existing.RecruiterID == g.RecruiterID {
			return AccessGrant{}, ErrAlreadyGranted
		}
	}
	s.grants[g.ID] = g
	return g, nil
}

func (s *MemoryStore) GetGrant(ctx context.Context, id string) (AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) DeleteGrant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return ErrNotFound
	}
	delete(s.grants, id)
	return nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, clientID string) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for _, g := range s.grants {
		if g.ClientID == clientID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Entity {
	case EntityCandidate:
		if _, ok := s.candidates[e.EntityID]; !ok {
			return ActivityEntry{}, ErrNotFound
		}
	case EntityClient:
		if _, ok := s.clients[e.EntityID]; !ok {
			return ActivityEntry{}, ErrNotFound
		}
	default:
		return ActivityEntry{}, ErrInvalidActivity
	}
	key := activityKey{e.Entity, e.EntityID}
	s.activity[key] = append(s.activity[key], e.clone())
	return e.clone(), nil
}

// ListActivity returns entries newest first.
func (s *MemoryStore) ListActivity(ctx context.Context, kind EntityKind, entityID string, limit int) ([]ActivityEntry, error) {
	limit = NormalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[activityKey{kind, entityID}]
	out := make([]ActivityEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i].clone())
	}
	return out, nil
}
