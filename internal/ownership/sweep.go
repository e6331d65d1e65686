package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/obs"
)

// ReleaseCategory names the rule that released a candidate.
type ReleaseCategory string

const (
	ReleaseNoContactAfterClaim ReleaseCategory = "no_contact_24h"
	ReleaseNoContactStale      ReleaseCategory = "no_contact_30d"

	categoryExclusiveCleared = "exclusive_cleared"
)

const (
	NoContactAfterClaimReason = "Auto-released: No two-way communication within 24 hours of claim"
	NoContactStaleReason      = "Auto-released: No two-way communication for 30+ days"
)

// Sweep pass names, as reported in failures and metrics.
const (
	PassStaleClaims    = "stale_claims"
	PassStaleOwnership = "stale_ownership"
	PassExclusive      = "exclusive_windows"
)

// PlannedRelease is one release decided by PlanCandidateReleases.
type PlannedRelease struct {
	Candidate Candidate       `json:"candidate"`
	Category  ReleaseCategory `json:"category"`
	Reason    string          `json:"reason"`
}

// PlanCandidateReleases decides which candidates the decay rules release at
// now. It has no side effects; the order of the input is preserved.
func PlanCandidateReleases(now time.Time, candidates []Candidate) []PlannedRelease {
	var plan []PlannedRelease
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.OwnedBy == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		switch {
		case c.LastTwoWayContact == nil && c.OwnedAt != nil && c.OwnedAt.Before(now.Add(-ClaimWindow)):
			plan = append(plan, PlannedRelease{Candidate: c, Category: ReleaseNoContactAfterClaim, Reason: NoContactAfterClaimReason})
		case c.LastTwoWayContact != nil && c.LastTwoWayContact.Before(now.Add(-CandidateStaleAfter)):
			plan = append(plan, PlannedRelease{Candidate: c, Category: ReleaseNoContactStale, Reason: NoContactStaleReason})
		default:
			continue
		}
		seen[c.ID] = struct{}{}
	}
	return plan
}

// SweepCounts is the per-category tally returned to the scheduler.
type SweepCounts struct {
	NoContactIn24hr         int `json:"noContactIn24hr"`
	NoContactIn30days       int `json:"noContactIn30days"`
	ExpiredExclusiveWindows int `json:"expiredExclusiveWindows"`
}

// SweepFailure records a pass or a single record that could not be
// processed. It is left for the next run.
type SweepFailure struct {
	Pass        string `json:"pass"`
	CandidateID string `json:"candidate_id,omitempty"`
	Error       string `json:"error"`
}

// SweepReport summarises one run.
type SweepReport struct {
	Timestamp time.Time        `json:"timestamp"`
	Released  SweepCounts      `json:"released"`
	Releases  []PlannedRelease `json:"-"`
	Failures  []SweepFailure   `json:"failures,omitempty"`
}

// OK reports whether every pass completed without failures.
func (r SweepReport) OK() bool { return len(r.Failures) == 0 }

// Sweeper runs the candidate decay passes. Clients are not swept; their
// expiry is derived on read.
type Sweeper struct {
	store    CandidateStore
	activity ActivityStore
	clock    clock.Clock
}

func NewSweeper(store CandidateStore, activity ActivityStore, clk clock.Clock) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	return &Sweeper{store: store, activity: activity, clock: clk}
}

// Run executes the three passes once. A failing pass is recorded in the
// report and does not stop the others. Nothing is retried.
func (s *Sweeper) Run(ctx context.Context) SweepReport {
	start := time.Now()
	now := s.clock.Now()
	report := SweepReport{Timestamp: now}
	log := obs.Logger().With("job", "ownership_sweep")

	passes := []struct {
		name string
		list func(context.Context, time.Time) ([]Candidate, error)
		at   time.Time
	}{
		{PassStaleClaims, s.store.ListStaleClaims, now.Add(-ClaimWindow)},
		{PassStaleOwnership, s.store.ListStaleOwnership, now.Add(-CandidateStaleAfter)},
	}
	for _, p := range passes {
		candidates, err := p.list(ctx, p.at)
		if err != nil {
			report.fail(p.name, "", fmt.Errorf("list candidates: %w", err))
			log.Error("sweep pass failed", "pass", p.name, "error", err)
			continue
		}
		for _, planned := range PlanCandidateReleases(now, candidates) {
			released, err := s.release(ctx, planned, now)
			if err != nil {
				report.fail(p.name, planned.Candidate.ID, err)
				log.Error("sweep release failed", "pass", p.name, "candidate_id", planned.Candidate.ID, "error", err)
				continue
			}
			if !released {
				log.Info("sweep release skipped, candidate changed", "candidate_id", planned.Candidate.ID)
				continue
			}
			report.Releases = append(report.Releases, planned)
			switch planned.Category {
			case ReleaseNoContactAfterClaim:
				report.Released.NoContactIn24hr++
			case ReleaseNoContactStale:
				report.Released.NoContactIn30days++
			}
		}
	}

	cleared, err := s.store.ClearExpiredExclusive(ctx, now)
	if err != nil {
		report.fail(PassExclusive, "", fmt.Errorf("clear exclusive windows: %w", err))
		log.Error("sweep pass failed", "pass", PassExclusive, "error", err)
	} else {
		report.Released.ExpiredExclusiveWindows = cleared
	}

	obs.SweepChanged(string(ReleaseNoContactAfterClaim), report.Released.NoContactIn24hr)
	obs.SweepChanged(string(ReleaseNoContactStale), report.Released.NoContactIn30days)
	obs.SweepChanged(categoryExclusiveCleared, report.Released.ExpiredExclusiveWindows)
	obs.ObserveSweep("ownership", time.Since(start))
	log.Info("sweep finished",
		"no_contact_24h", report.Released.NoContactIn24hr,
		"no_contact_30d", report.Released.NoContactIn30days,
		"exclusive_cleared", report.Released.ExpiredExclusiveWindows,
		"failures", len(report.Failures),
	)
	return report
}

// release clears ownership if neither the owner nor the last contact moved
// since the candidate was read, then writes the system entry.
func (s *Sweeper) release(ctx context.Context, p PlannedRelease, now time.Time) (bool, error) {
	c := p.Candidate
	guard := CandidateGuard{Owner: c.OwnedBy, CheckContact: true, LastTwoWay: c.LastTwoWayContact}
	ok, err := s.store.SetCandidateOwner(ctx, c.ID, guard, "", nil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	systemEntry(ctx, s.activity, EntityCandidate, c.ID, c.OwnedBy, ActivityReleased, p.Reason, now)
	return true, nil
}

func (r *SweepReport) fail(pass, candidateID string, err error) {
	obs.SweepFailure(pass)
	r.Failures = append(r.Failures, SweepFailure{Pass: pass, CandidateID: candidateID, Error: err.Error()})
}
