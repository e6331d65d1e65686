package ownership

import (
	"context"
	"fmt"
	"strings"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/ids"
	"github.com/searchmarket/search-market-ats/internal/obs"
)

const (
	clientClaimedNote  = "Client claimed"
	clientReleasedNote = "Client released"
	contractSignedNote = "Contract signed"
)

// NewClient is the input of ClientEngine.Create.
type NewClient struct {
	CompanyName string `json:"company_name"`
}

// ClientEngine applies the staged client lifecycle and owns the access
// grant registry.
type ClientEngine struct {
	store    ClientStore
	grants   GrantStore
	activity ActivityStore
	clock    clock.Clock
}

func NewClientEngine(store ClientStore, grants GrantStore, activity ActivityStore, clk clock.Clock) *ClientEngine {
	if clk == nil {
		clk = clock.Real()
	}
	return &ClientEngine{store: store, grants: grants, activity: activity, clock: clk}
}

// Status derives the client status at the engine's current time.
func (e *ClientEngine) Status(c Client) ClientStatus {
	return DeriveClientStatus(c, e.clock.Now())
}

// Create inserts a client. A non-empty creatorID starts a claimed cycle for
// the creator; an empty one leaves the client open.
func (e *ClientEngine) Create(ctx context.Context, in NewClient, creatorID string) (Client, error) {
	name := strings.TrimSpace(in.CompanyName)
	if name == "" {
		return Client{}, fmt.Errorf("%w: company_name is required", ErrInvalidInput)
	}
	creatorID = strings.TrimSpace(creatorID)
	now := e.clock.Now()
	c := Client{ID: ids.NewAt(now), CompanyName: name, CreatedAt: now}
	if creatorID != "" {
		c.OwnedBy = creatorID
		c.OwnedAt = timePtr(now)
	}
	c, err := e.store.CreateClient(ctx, c)
	if err != nil {
		return Client{}, err
	}
	if creatorID != "" {
		obs.ClaimAttempt(string(EntityClient), "won")
		systemEntry(ctx, e.activity, EntityClient, c.ID, creatorID, ActivityClaimed, clientClaimedNote, now)
	}
	return c, nil
}

func (e *ClientEngine) Get(ctx context.Context, id string) (Client, error) {
	return e.store.GetClient(ctx, id)
}

// Claim starts a fresh ownership cycle. Only open or expired clients can be
// claimed. The write is conditional on the owner tuple read here. Taking an
// expired client over from another recruiter revokes that recruiter's grants.
func (e *ClientEngine) Claim(ctx context.Context, id, recruiterID string) (Client, error) {
	if strings.TrimSpace(recruiterID) == "" {
		return Client{}, fmt.Errorf("%w: recruiter is required", ErrInvalidInput)
	}
	c, err := e.store.GetClient(ctx, id)
	if err != nil {
		return Client{}, err
	}
	now := e.clock.Now()
	if !DeriveClientStatus(c, now).State.Claimable() {
		obs.ClaimAttempt(string(EntityClient), "rejected")
		return Client{}, ErrNotClaimable
	}

	takeover := c.OwnedBy != "" && c.OwnedBy != recruiterID
	guard := ClientGuard{Owner: c.OwnedBy, OwnedAt: c.OwnedAt}
	won, err := e.store.ClaimClient(ctx, id, guard, recruiterID, now, takeover)
	if err != nil {
		return Client{}, fmt.Errorf("claim client: %w", err)
	}
	if !won {
		obs.ClaimAttempt(string(EntityClient), "lost")
		return Client{}, ErrClaimLost
	}
	obs.ClaimAttempt(string(EntityClient), "won")

	c.OwnedBy = recruiterID
	c.OwnedAt = timePtr(now)
	c.FirstOutboundAt = nil
	c.TwoWayEstablishedAt = nil
	c.ContractSignedAt = nil
	c.LastTwoWayAt = nil
	systemEntry(ctx, e.activity, EntityClient, id, recruiterID, ActivityClaimed, clientClaimedNote, now)
	return c, nil
}

// Release clears ownership and milestones and revokes every grant.
func (e *ClientEngine) Release(ctx context.Context, id, recruiterID, reason string) (Client, error) {
	c, err := e.store.GetClient(ctx, id)
	if err != nil {
		return Client{}, err
	}
	if c.OwnedBy == "" || c.OwnedBy != recruiterID {
		return Client{}, ErrNotOwner
	}
	return e.release(ctx, c, recruiterID, reason, clientReleasedNote)
}

// ForceRelease releases the client from whoever owns it, including an
// owner whose cycle has expired. The released entry is attributed to actorID.
func (e *ClientEngine) ForceRelease(ctx context.Context, id, actorID, reason string) (Client, error) {
	c, err := e.store.GetClient(ctx, id)
	if err != nil {
		return Client{}, err
	}
	if c.OwnedBy == "" {
		return Client{}, ErrNotOwned
	}
	return e.release(ctx, c, actorID, reason, forcedReleaseNote)
}

func (e *ClientEngine) release(ctx context.Context, c Client, actorID, reason, defaultNote string) (Client, error) {
	won, err := e.store.ReleaseClient(ctx, c.ID, c.OwnedBy)
	if err != nil {
		return Client{}, fmt.Errorf("release client: %w", err)
	}
	if !won {
		return Client{}, ErrNotOwner
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultNote
	}
	released := Client{ID: c.ID, CompanyName: c.CompanyName, CreatedAt: c.CreatedAt}
	systemEntry(ctx, e.activity, EntityClient, c.ID, actorID, ActivityReleased, reason, e.clock.Now())
	return released, nil
}

// RecordActivity appends entry to the client ledger and, while the client is
// owned, advances its milestones.
func (e *ClientEngine) RecordActivity(ctx context.Context, id string, entry ActivityEntry) (ActivityEntry, error) {
	if entry.Type.Reserved() {
		return ActivityEntry{}, ErrReservedActivity
	}
	if err := entry.validate(); err != nil {
		return ActivityEntry{}, err
	}
	c, err := e.store.GetClient(ctx, id)
	if err != nil {
		return ActivityEntry{}, err
	}
	return e.record(ctx, c, entry)
}

// MarkContractSigned records a contract_signed entry on behalf of the owner.
// Two-way communication must have been established in the current cycle.
func (e *ClientEngine) MarkContractSigned(ctx context.Context, id, recruiterID, notes string) (ActivityEntry, error) {
	c, err := e.store.GetClient(ctx, id)
	if err != nil {
		return ActivityEntry{}, err
	}
	if c.OwnedBy == "" || c.OwnedBy != recruiterID {
		return ActivityEntry{}, ErrNotOwner
	}
	if c.TwoWayEstablishedAt == nil {
		return ActivityEntry{}, ErrTwoWayRequired
	}
	if strings.TrimSpace(notes) == "" {
		notes = contractSignedNote
	}
	return e.record(ctx, c, ActivityEntry{
		RecruiterID: recruiterID,
		Type:        ActivityContractSigned,
		Notes:       notes,
	})
}

func (e *ClientEngine) record(ctx context.Context, c Client, entry ActivityEntry) (ActivityEntry, error) {
	now := e.clock.Now()
	entry.ID = ids.NewAt(now)
	entry.Entity = EntityClient
	entry.EntityID = c.ID
	entry.CreatedAt = now
	saved, err := e.activity.AppendActivity(ctx, entry)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity: %w", err)
	}
	if c.OwnedBy == "" {
		return saved, nil
	}

	var m Milestones
	if saved.Direction == DirectionOutbound {
		m.FirstOutboundAt = timePtr(now)
	}
	if saved.IsTwoWay() {
		m.TwoWayAt = timePtr(now)
	}
	if saved.Type == ActivityContractSigned {
		m.ContractSignedAt = timePtr(now)
	}
	if m.empty() {
		return saved, nil
	}
	applied, err := e.store.ApplyClientMilestones(ctx, c.ID, c.OwnedBy, m)
	if err != nil {
		return saved, fmt.Errorf("apply client milestones: %w", err)
	}
	if !applied {
		obs.Logger().Info("client milestones skipped, ownership changed",
			"client_id", c.ID,
			"activity_id", saved.ID,
		)
	}
	return saved, nil
}

// ListActivity returns the client ledger, newest first.
func (e *ClientEngine) ListActivity(ctx context.Context, id string, limit int) ([]ActivityEntry, error) {
	if _, err := e.store.GetClient(ctx, id); err != nil {
		return nil, err
	}
	return e.activity.ListActivity(ctx, EntityClient, id, NormalizeLimit(limit))
}

// GrantAccess shares the client with grantee. Only the owner may grant.
func (e *ClientEngine) GrantAccess(ctx context.Context, clientID, ownerID, granteeID string) (AccessGrant, error) {
	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return AccessGrant{}, fmt.Errorf("%w: recruiter_id is required", ErrInvalidInput)
	}
	c, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return AccessGrant{}, err
	}
	if c.OwnedBy == "" || c.OwnedBy != ownerID {
		return AccessGrant{}, ErrNotOwner
	}
	if granteeID == ownerID {
		return AccessGrant{}, ErrSelfGrant
	}
	now := e.clock.Now()
	return e.grants.InsertGrant(ctx, AccessGrant{
		ID:          ids.NewAt(now),
		ClientID:    clientID,
		RecruiterID: granteeID,
		GrantedBy:   ownerID,
		CreatedAt:   now,
	})
}

// RevokeAccess deletes a grant. The client owner or the grantee may revoke.
func (e *ClientEngine) RevokeAccess(ctx context.Context, clientID, grantID, callerID string) error {
	g, err := e.grants.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if g.ClientID != clientID {
		return ErrNotFound
	}
	c, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if callerID != g.RecruiterID && (c.OwnedBy == "" || callerID != c.OwnedBy) {
		return ErrNotOwner
	}
	return e.grants.DeleteGrant(ctx, grantID)
}

func (e *ClientEngine) ListGrants(ctx context.Context, clientID string) ([]AccessGrant, error) {
	if _, err := e.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return e.grants.ListGrants(ctx, clientID)
}

// HasAccess reports whether recruiterID may work the client: its owner, an
// admin, or a grantee.
func (e *ClientEngine) HasAccess(ctx context.Context, clientID, recruiterID string, admin bool) (bool, error) {
	c, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return false, err
	}
	if admin || (c.OwnedBy != "" && c.OwnedBy == recruiterID) {
		return true, nil
	}
	grants, err := e.grants.ListGrants(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("list grants: %w", err)
	}
	for _, g := range grants {
		if g.RecruiterID == recruiterID {
			return true, nil
		}
	}
	return false, nil
}

