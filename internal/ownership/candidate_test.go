package ownership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchmarket/search-market-ats/internal/clock"
)

// failingActivity rejects system entries so log-after-effect can be observed.
type failingActivity struct {
	*MemoryStore
}

func (f failingActivity) AppendActivity(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	if e.Type.Reserved() {
		return ActivityEntry{}, errors.New("ledger unavailable")
	}
	return f.MemoryStore.AppendActivity(ctx, e)
}

func newCandidateFixture(t *testing.T) (*CandidateEngine, *MemoryStore, *clock.FakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clk := clock.Fake(t0)
	return NewCandidateEngine(store, store, clk), store, clk
}

func createCandidate(t *testing.T, e *CandidateEngine, sourcer string, exclusiveUntil *time.Time) Candidate {
	t.Helper()
	c, err := e.Create(context.Background(), NewCandidate{FirstName: "Ada", LastName: "Lovelace", ExclusiveUntil: exclusiveUntil}, sourcer)
	require.NoError(t, err)
	return c
}

func assertOwnershipInvariant(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	c, err := s.GetCandidate(context.Background(), id)
	require.NoError(t, err)
	if c.OwnedBy == "" {
		assert.Nil(t, c.OwnedAt, "unowned candidate must not carry owned_at")
	} else {
		assert.NotNil(t, c.OwnedAt, "owned candidate must carry owned_at")
	}
}

func TestCandidateCreate(t *testing.T) {
	e, _, _ := newCandidateFixture(t)
	c := createCandidate(t, e, "sourcer", nil)
	assert.Equal(t, "sourcer", c.SourcedBy)
	assert.Empty(t, c.OwnedBy)
	assert.Equal(t, t0, c.CreatedAt)
	assert.Equal(t, CandidateOpen, e.State(c))

	_, err := e.Create(context.Background(), NewCandidate{FirstName: "x"}, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Create(context.Background(), NewCandidate{}, "r1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCandidateClaimOpen(t *testing.T) {
	e, store, clk := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", nil)
	clk.Advance(time.Minute)

	got, err := e.Claim(ctx, c.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.OwnedBy)
	require.NotNil(t, got.OwnedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.OwnedAt)
	assertOwnershipInvariant(t, store, c.ID)

	entries, err := e.ListActivity(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActivityClaimed, entries[0].Type)
	assert.Equal(t, ChannelSystem, entries[0].Channel)
	assert.Equal(t, "Candidate claimed", entries[0].Notes)
	assert.Equal(t, "r1", entries[0].RecruiterID)
}

func TestCandidateClaimOwnedAlwaysFails(t *testing.T) {
	e, _, _ := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", nil)
	_, err := e.Claim(ctx, c.ID, "r1")
	require.NoError(t, err)

	for _, who := range []string{"r1", "r2", "sourcer"} {
		_, err := e.Claim(ctx, c.ID, who)
		assert.ErrorIs(t, err, ErrNotClaimable, who)
	}
}

func TestCandidateClaimExclusive(t *testing.T) {
	e, _, clk := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", at(2*day))
	assert.Equal(t, CandidateExclusive, e.State(c))

	_, err := e.Claim(ctx, c.ID, "r2")
	assert.ErrorIs(t, err, ErrNotClaimable)

	got, err := e.Claim(ctx, c.ID, "sourcer")
	require.NoError(t, err)
	assert.Equal(t, "sourcer", got.OwnedBy)

	other := createCandidate(t, e, "sourcer", at(day))
	clk.Advance(day + time.Second)
	got, err = e.Claim(ctx, other.ID, "r2")
	require.NoError(t, err, "lapsed exclusivity is open to everyone")
	assert.Equal(t, "r2", got.OwnedBy)
}

func TestCandidateClaimMissing(t *testing.T) {
	e, _, _ := newCandidateFixture(t)
	_, err := e.Claim(context.Background(), "nope", "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCandidateRelease(t *testing.T) {
	e, store, clk := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", nil)
	_, err := e.Claim(ctx, c.ID, "r1")
	require.NoError(t, err)

	_, err = e.Release(ctx, c.ID, "r2", "")
	assert.ErrorIs(t, err, ErrNotOwner)

	clk.Advance(time.Hour)
	got, err := e.Release(ctx, c.ID, "r1", "")
	require.NoError(t, err)
	assert.Empty(t, got.OwnedBy)
	assert.Nil(t, got.OwnedAt)
	assertOwnershipInvariant(t, store, c.ID)

	entries, err := e.ListActivity(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActivityReleased, entries[0].Type)
	assert.Equal(t, "Candidate released", entries[0].Notes)

	_, err = e.Release(ctx, c.ID, "r1", "")
	assert.ErrorIs(t, err, ErrNotOwner, "released candidate has no owner")

	_, err = e.Claim(ctx, c.ID, "r2")
	require.NoError(t, err)
	_, err = e.Release(ctx, c.ID, "r2", "moving on")
	require.NoError(t, err)
	entries, err = e.ListActivity(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "moving on", entries[0].Notes)
}

func TestCandidateForceRelease(t *testing.T) {
	e, store, _ := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "r1", nil)

	_, err := e.ForceRelease(ctx, c.ID, "admin", "")
	assert.ErrorIs(t, err, ErrNotOwned)

	_, err = e.Claim(ctx, c.ID, "r1")
	require.NoError(t, err)
	got, err := e.ForceRelease(ctx, c.ID, "admin", "")
	require.NoError(t, err)
	assert.Empty(t, got.OwnedBy)
	assertOwnershipInvariant(t, store, c.ID)

	entries, err := e.ListActivity(ctx, c.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, ActivityReleased, entries[0].Type)
	assert.Equal(t, "admin", entries[0].RecruiterID)
	assert.Equal(t, forcedReleaseNote, entries[0].Notes)

	_, err = e.ForceRelease(ctx, "missing", "admin", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCandidateRecordActivity(t *testing.T) {
	e, store, clk := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", nil)

	_, err := e.RecordActivity(ctx, c.ID, ActivityEntry{RecruiterID: "r1", Type: ActivityMessage, Direction: DirectionOutbound, Channel: ChannelEmail})
	require.NoError(t, err)
	got, err := store.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastTwoWayContact, "one-way entries leave the contact clock alone")

	now := clk.Advance(3 * time.Hour)
	saved, err := e.RecordActivity(ctx, c.ID, ActivityEntry{RecruiterID: "r1", Type: ActivityMessage, Direction: DirectionInbound, Channel: ChannelLinkedIn})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, now, saved.CreatedAt)
	got, err = store.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTwoWayContact)
	assert.Equal(t, now, *got.LastTwoWayContact)
}

func TestCandidateRecordActivityRejectsReserved(t *testing.T) {
	e, _, _ := newCandidateFixture(t)
	c := createCandidate(t, e, "sourcer", nil)
	for _, typ := range []ActivityType{ActivityClaimed, ActivityReleased} {
		_, err := e.RecordActivity(context.Background(), c.ID, ActivityEntry{RecruiterID: "r1", Type: typ})
		assert.ErrorIs(t, err, ErrReservedActivity)
	}
	_, err := e.RecordActivity(context.Background(), c.ID, ActivityEntry{Type: ActivityNote})
	assert.ErrorIs(t, err, ErrInvalidActivity)
	_, err = e.RecordActivity(context.Background(), "missing", ActivityEntry{RecruiterID: "r1", Type: ActivityNote})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCandidateDelete(t *testing.T) {
	e, store, _ := newCandidateFixture(t)
	ctx := context.Background()
	c := createCandidate(t, e, "sourcer", nil)
	_, err := e.Claim(ctx, c.ID, "r1")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Delete(ctx, c.ID, "r2", false), ErrNotOwner)
	require.NoError(t, e.Delete(ctx, c.ID, "r1", false))
	_, err = store.GetCandidate(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := store.ListActivity(ctx, EntityCandidate, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	other := createCandidate(t, e, "sourcer", nil)
	require.NoError(t, e.Delete(ctx, other.ID, "admin-user", true))
}

func TestCandidateClaimToleratesMissingLogEntry(t *testing.T) {
	store := NewMemoryStore()
	e := NewCandidateEngine(store, failingActivity{store}, clock.Fake(t0))
	c := createCandidate(t, e, "sourcer", nil)

	got, err := e.Claim(context.Background(), c.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.OwnedBy)
	entries, err := store.ListActivity(context.Background(), EntityCandidate, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCandidateConcurrentClaimHasOneWinner(t *testing.T) {
	e, store, _ := newCandidateFixture(t)
	c := createCandidate(t, e, "sourcer", nil)

	const racers = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  []string
		start = make(chan struct{})
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			who := string(rune('a'+i%26)) + string(rune('0'+i/26))
			_, err := e.Claim(context.Background(), c.ID, who)
			switch {
			case err == nil:
				mu.Lock()
				wins = append(wins, who)
				mu.Unlock()
			case errors.Is(err, ErrClaimLost), errors.Is(err, ErrNotClaimable):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := store.GetCandidate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], got.OwnedBy)
	assertOwnershipInvariant(t, store, c.ID)
}
