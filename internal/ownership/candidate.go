package ownership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/ids"
	"github.com/searchmarket/search-market-ats/internal/obs"
)

const (
	candidateClaimedNote  = "Candidate claimed"
	candidateReleasedNote = "Candidate released"
	forcedReleaseNote     = "Released by admin"
)

// NewCandidate is the input of CandidateEngine.Create.
type NewCandidate struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	ExclusiveUntil *time.Time `json:"exclusive_until,omitempty"`
}

// CandidateEngine applies the candidate claim rules.
type CandidateEngine struct {
	store    CandidateStore
	activity ActivityStore
	clock    clock.Clock
}

// NewCandidateEngine wires a CandidateEngine. A nil clock means real time.
func NewCandidateEngine(store CandidateStore, activity ActivityStore, clk clock.Clock) *CandidateEngine {
	if clk == nil {
		clk = clock.Real()
	}
	return &CandidateEngine{store: store, activity: activity, clock: clk}
}

// State derives the candidate state at the engine's current time.
func (e *CandidateEngine) State(c Candidate) CandidateState {
	return CandidateStateAt(c, e.clock.Now())
}

// Create inserts an unowned candidate sourced by recruiterID.
func (e *CandidateEngine) Create(ctx context.Context, in NewCandidate, recruiterID string) (Candidate, error) {
	recruiterID = strings.TrimSpace(recruiterID)
	if recruiterID == "" {
		return Candidate{}, fmt.Errorf("%w: recruiter is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" {
		return Candidate{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := e.clock.Now()
	c := Candidate{
		ID:             ids.NewAt(now),
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          strings.TrimSpace(in.Email),
		SourcedBy:      recruiterID,
		ExclusiveUntil: cloneTime(in.ExclusiveUntil),
		CreatedAt:      now,
	}
	return e.store.CreateCandidate(ctx, c)
}

func (e *CandidateEngine) Get(ctx context.Context, id string) (Candidate, error) {
	return e.store.GetCandidate(ctx, id)
}

// Delete removes the candidate. The sourcer, the owner and admins may delete.
func (e *CandidateEngine) Delete(ctx context.Context, id, recruiterID string, admin bool) error {
	c, err := e.store.GetCandidate(ctx, id)
	if err != nil {
		return err
	}
	if !admin && recruiterID != c.SourcedBy && recruiterID != c.OwnedBy {
		return ErrNotOwner
	}
	return e.store.DeleteCandidate(ctx, id)
}

// Claim makes recruiterID the owner. Open candidates can be claimed by
// anyone; exclusive ones only by their sourcer. The write is conditional on
// the candidate still being unowned, so of two racing claims exactly one
// wins and the other gets ErrClaimLost.
func (e *CandidateEngine) Claim(ctx context.Context, id, recruiterID string) (Candidate, error) {
	if strings.TrimSpace(recruiterID) == "" {
		return Candidate{}, fmt.Errorf("%w: recruiter is required", ErrInvalidInput)
	}
	c, err := e.store.GetCandidate(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	now := e.clock.Now()
	switch CandidateStateAt(c, now) {
	case CandidateOwned:
		obs.ClaimAttempt(string(EntityCandidate), "rejected")
		return Candidate{}, ErrNotClaimable
	case CandidateExclusive:
		if recruiterID != c.SourcedBy {
			obs.ClaimAttempt(string(EntityCandidate), "rejected")
			return Candidate{}, ErrNotClaimable
		}
	}

	won, err := e.store.SetCandidateOwner(ctx, id, CandidateGuard{}, recruiterID, &now)
	if err != nil {
		return Candidate{}, fmt.Errorf("claim candidate: %w", err)
	}
	if !won {
		obs.ClaimAttempt(string(EntityCandidate), "lost")
		return Candidate{}, ErrClaimLost
	}
	obs.ClaimAttempt(string(EntityCandidate), "won")

	c.OwnedBy = recruiterID
	c.OwnedAt = timePtr(now)
	systemEntry(ctx, e.activity, EntityCandidate, id, recruiterID, ActivityClaimed, candidateClaimedNote, now)
	return c, nil
}

// Release gives up ownership. Only the current owner may release.
func (e *CandidateEngine) Release(ctx context.Context, id, recruiterID, reason string) (Candidate, error) {
	c, err := e.store.GetCandidate(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	if c.OwnedBy == "" || c.OwnedBy != recruiterID {
		return Candidate{}, ErrNotOwner
	}
	return e.release(ctx, c, recruiterID, reason, candidateReleasedNote)
}

// ForceRelease releases the candidate from whoever owns it. The released
// entry is attributed to actorID.
func (e *CandidateEngine) ForceRelease(ctx context.Context, id, actorID, reason string) (Candidate, error) {
	c, err := e.store.GetCandidate(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	if c.OwnedBy == "" {
		return Candidate{}, ErrNotOwned
	}
	return e.release(ctx, c, actorID, reason, forcedReleaseNote)
}

func (e *CandidateEngine) release(ctx context.Context, c Candidate, actorID, reason, defaultNote string) (Candidate, error) {
	won, err := e.store.SetCandidateOwner(ctx, c.ID, CandidateGuard{Owner: c.OwnedBy}, "", nil)
	if err != nil {
		return Candidate{}, fmt.Errorf("release candidate: %w", err)
	}
	if !won {
		return Candidate{}, ErrNotOwner
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultNote
	}
	c.OwnedBy = ""
	c.OwnedAt = nil
	systemEntry(ctx, e.activity, EntityCandidate, c.ID, actorID, ActivityReleased, reason, e.clock.Now())
	return c, nil
}

// RecordActivity appends entry to the candidate ledger. Two-way entries
// refresh last_two_way_contact.
func (e *CandidateEngine) RecordActivity(ctx context.Context, id string, entry ActivityEntry) (ActivityEntry, error) {
	if entry.Type.Reserved() {
		return ActivityEntry{}, ErrReservedActivity
	}
	if err := entry.validate(); err != nil {
		return ActivityEntry{}, err
	}
	if _, err := e.store.GetCandidate(ctx, id); err != nil {
		return ActivityEntry{}, err
	}

	now := e.clock.Now()
	entry.ID = ids.NewAt(now)
	entry.Entity = EntityCandidate
	entry.EntityID = id
	entry.CreatedAt = now
	saved, err := e.activity.AppendActivity(ctx, entry)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity: %w", err)
	}
	if saved.IsTwoWay() {
		if err := e.store.TouchCandidateContact(ctx, id, now); err != nil {
			return saved, fmt.Errorf("touch candidate contact: %w", err)
		}
	}
	return saved, nil
}

// ListActivity returns the candidate ledger, newest first.
func (e *CandidateEngine) ListActivity(ctx context.Context, id string, limit int) ([]ActivityEntry, error) {
	if _, err := e.store.GetCandidate(ctx, id); err != nil {
		return nil, err
	}
	return e.activity.ListActivity(ctx, EntityCandidate, id, NormalizeLimit(limit))
}

// systemEntry writes a claimed/released entry after the ownership change has
// already been stored. A failure is logged and otherwise ignored.
func systemEntry(ctx context.Context, store ActivityStore, kind EntityKind, entityID, recruiterID string, typ ActivityType, notes string, at time.Time) {
	_, err := store.AppendActivity(ctx, ActivityEntry{
		ID:          ids.NewAt(at),
		Entity:      kind,
		EntityID:    entityID,
		RecruiterID: recruiterID,
		Type:        typ,
		Channel:     ChannelSystem,
		Notes:       notes,
		CreatedAt:   at,
	})
	if err != nil {
		obs.Logger().Warn("ownership log entry not written",
			"entity", string(kind),
			"entity_id", entityID,
			"activity_type", string(typ),
			"error", err,
		)
	}
}
