package ownership

import (
	"context"
	"time"
)

// CandidateGuard is the condition a candidate ownership write is applied
// under. The write only happens if the stored owner still equals Owner and,
// when CheckContact is set, last_two_way_contact still equals LastTwoWay.
type CandidateGuard struct {
	Owner        string
	CheckContact bool
	LastTwoWay   *time.Time
}

// CandidateStore persists candidates. Ownership writes are compare-and-set:
// they report false, not an error, when the guard no longer holds.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, c Candidate) (Candidate, error)
	GetCandidate(ctx context.Context, id string) (Candidate, error)
	DeleteCandidate(ctx context.Context, id string) error
	SetCandidateOwner(ctx context.Context, id string, guard CandidateGuard, owner string, ownedAt *time.Time) (bool, error)
	TouchCandidateContact(ctx context.Context, id string, at time.Time) error
	// ListStaleClaims returns owned candidates claimed before the cutoff
	// that never had two-way contact.
	ListStaleClaims(ctx context.Context, claimedBefore time.Time) ([]Candidate, error)
	// ListStaleOwnership returns owned candidates whose last two-way
	// contact is before the cutoff.
	ListStaleOwnership(ctx context.Context, contactBefore time.Time) ([]Candidate, error)
	// ClearExpiredExclusive nulls exclusive_until where it is before now
	// and returns the number of rows changed.
	ClearExpiredExclusive(ctx context.Context, now time.Time) (int, error)
}

// ClientGuard pins the ownership tuple observed when a claim was decided.
type ClientGuard struct {
	Owner   string
	OwnedAt *time.Time
}

// Milestones carries one-time client timestamps. A nil field leaves the
// stored value alone; a set field only fills an empty column, except
// TwoWayAt which always refreshes last_two_way_at.
type Milestones struct {
	FirstOutboundAt  *time.Time
	TwoWayAt         *time.Time
	ContractSignedAt *time.Time
}

func (m Milestones) empty() bool {
	return m.FirstOutboundAt == nil && m.TwoWayAt == nil && m.ContractSignedAt == nil
}

// ClientStore persists clients.
type ClientStore interface {
	CreateClient(ctx context.Context, c Client) (Client, error)
	GetClient(ctx context.Context, id string) (Client, error)
	// ClaimClient sets the owner and clears the milestones if the guard
	// holds. revokeGrants deletes every grant of the client in the same
	// write.
	ClaimClient(ctx context.Context, id string, guard ClientGuard, owner string, at time.Time, revokeGrants bool) (bool, error)
	// ReleaseClient clears ownership, milestones and grants atomically if
	// owner still owns the client.
	ReleaseClient(ctx context.Context, id, owner string) (bool, error)
	ApplyClientMilestones(ctx context.Context, id, owner string, m Milestones) (bool, error)
}

// GrantStore persists client access grants.
type GrantStore interface {
	InsertGrant(ctx context.Context, g AccessGrant) (AccessGrant, error)
	GetGrant(ctx context.Context, id string) (AccessGrant, error)
	DeleteGrant(ctx context.Context, id string) error
	ListGrants(ctx context.Context, clientID string) ([]AccessGrant, error)
}

// ActivityStore is the append-only ledger for both entity kinds.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error)
	ListActivity(ctx context.Context, kind EntityKind, entityID string, limit int) ([]ActivityEntry, error)
}

const (
	DefaultActivityLimit = 100
	MaxActivityLimit     = 1000
)

// NormalizeLimit clamps an activity page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxActivityLimit {
		return DefaultActivityLimit
	}
	return limit
}
