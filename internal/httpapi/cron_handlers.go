package httpapi

import (
	"net/http"
	"time"

	"github.com/searchmarket/search-market-ats/internal/audit"
	"github.com/searchmarket/search-market-ats/internal/auth"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
	"github.com/searchmarket/search-market-ats/internal/stream"
)

type ownershipCheckResponse struct {
	Success   bool                     `json:"success"`
	Timestamp time.Time                `json:"timestamp"`
	Released  ownership.SweepCounts    `json:"released"`
	Failures  []ownership.SweepFailure `json:"failures,omitempty"`
}

type referenceRemindersResponse struct {
	Success         bool                 `json:"success"`
	RemindersSent   int                  `json:"remindersSent"`
	StatusesChanged int                  `json:"statusesChanged"`
	Timestamp       time.Time            `json:"timestamp"`
	Failures        []references.Failure `json:"failures,omitempty"`
}

func (a *API) cronAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if !auth.CronAuthorized(r.Header.Get(authHeader), a.opts.CronSecret) {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

// cronOwnershipCheck runs the candidate decay sweep. Pass failures are
// reported in the body with success=false; the status stays 200.
func (a *API) cronOwnershipCheck(w http.ResponseWriter, r *http.Request) {
	if !a.cronAuthorized(w, r) {
		return
	}
	if a.svc.CandidateSweep == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ownership sweep disabled")
		return
	}
	report := a.svc.CandidateSweep.Run(r.Context())
	for _, rel := range report.Releases {
		a.publish(stream.Event{
			Kind:        stream.KindAutoReleased,
			Entity:      string(ownership.EntityCandidate),
			EntityID:    rel.Candidate.ID,
			RecruiterID: rel.Candidate.OwnedBy,
			Reason:      string(rel.Category),
			Timestamp:   report.Timestamp.UTC(),
		})
	}
	_ = audit.LogEvent(r.Context(), "ownership.sweep", map[string]any{
		"no_contact_24h":    report.Released.NoContactIn24hr,
		"no_contact_30d":    report.Released.NoContactIn30days,
		"exclusive_cleared": report.Released.ExpiredExclusiveWindows,
		"failures":          len(report.Failures),
	})
	writeJSON(w, http.StatusOK, ownershipCheckResponse{
		Success:   report.OK(),
		Timestamp: report.Timestamp.UTC(),
		Released:  report.Released,
		Failures:  report.Failures,
	})
}

func (a *API) cronReferenceReminders(w http.ResponseWriter, r *http.Request) {
	if !a.cronAuthorized(w, r) {
		return
	}
	if a.svc.ReferenceSweep == nil {
		writeError(w, r, http.StatusServiceUnavailable, "reference sweep disabled")
		return
	}
	report := a.svc.ReferenceSweep.Run(r.Context())
	_ = audit.LogEvent(r.Context(), "references.sweep", map[string]any{
		"reminders_sent":   report.RemindersSent,
		"statuses_changed": report.StatusesChanged,
		"failures":         len(report.Failures),
	})
	writeJSON(w, http.StatusOK, referenceRemindersResponse{
		Success:         report.OK(),
		RemindersSent:   report.RemindersSent,
		StatusesChanged: report.StatusesChanged,
		Timestamp:       report.Timestamp.UTC(),
		Failures:        report.Failures,
	})
}
