package httpapi

import (
	"net/http"

	"github.com/searchmarket/search-market-ats/internal/audit"
	"github.com/searchmarket/search-market-ats/internal/auth"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/stream"
)

type candidateView struct {
	ownership.Candidate
	State ownership.CandidateState `json:"state"`
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

type activityRequest struct {
	Type            ownership.ActivityType `json:"activity_type"`
	Direction       ownership.Direction    `json:"direction"`
	Channel         ownership.Channel      `json:"channel"`
	Notes           string                 `json:"notes"`
	DurationSeconds *int                   `json:"duration_seconds"`
	Metadata        map[string]any         `json:"metadata"`
}

func (req activityRequest) entry(recruiterID string) ownership.ActivityEntry {
	return ownership.ActivityEntry{
		RecruiterID:     recruiterID,
		Type:            req.Type,
		Direction:       req.Direction,
		Channel:         req.Channel,
		Notes:           req.Notes,
		DurationSeconds: req.DurationSeconds,
		Metadata:        req.Metadata,
	}
}

type activityList struct {
	Items []ownership.ActivityEntry `json:"items"`
}

func (a *API) candidateView(c ownership.Candidate) candidateView {
	return candidateView{Candidate: c, State: a.svc.Candidates.State(c)}
}

func (a *API) createCandidate(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req ownership.NewCandidate
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.svc.Candidates.Create(r.Context(), req, rid)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.candidate.create", map[string]any{
		"candidate_id": c.ID,
	})
	writeJSON(w, http.StatusCreated, a.candidateView(c))
}

func (a *API) getCandidate(w http.ResponseWriter, r *http.Request) {
	if _, ok := recruiter(w, r); !ok {
		return
	}
	c, err := a.svc.Candidates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.candidateView(c))
}

func (a *API) deleteCandidate(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	admin := auth.HasRole(r.Context(), auth.RoleAdmin)
	if err := a.svc.Candidates.Delete(r.Context(), id, rid, admin); err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.candidate.delete", map[string]any{
		"candidate_id": id,
		"admin":        admin,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) forceReleaseCandidate(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	before, err := a.svc.Candidates.Get(r.Context(), id)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	c, err := a.svc.Candidates.ForceRelease(r.Context(), id, rid, req.Reason)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.candidate.force_release", map[string]any{
		"candidate_id":   c.ID,
		"previous_owner": before.OwnedBy,
		"reason":         req.Reason,
	})
	a.publish(stream.Event{Kind: stream.KindReleased, Entity: string(ownership.EntityCandidate), EntityID: c.ID, RecruiterID: before.OwnedBy, Reason: req.Reason})
	writeJSON(w, http.StatusOK, a.candidateView(c))
}

func (a *API) claimCandidate(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Candidates.Claim(r.Context(), r.PathValue("id"), rid)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.candidate.claim", map[string]any{
		"candidate_id": c.ID,
	})
	a.publish(stream.Event{Kind: stream.KindClaimed, Entity: string(ownership.EntityCandidate), EntityID: c.ID, RecruiterID: rid})
	writeJSON(w, http.StatusOK, a.candidateView(c))
}

func (a *API) releaseCandidate(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.svc.Candidates.Release(r.Context(), r.PathValue("id"), rid, req.Reason)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.candidate.release", map[string]any{
		"candidate_id": c.ID,
		"reason":       req.Reason,
	})
	a.publish(stream.Event{Kind: stream.KindReleased, Entity: string(ownership.EntityCandidate), EntityID: c.ID, RecruiterID: rid, Reason: req.Reason})
	writeJSON(w, http.StatusOK, a.candidateView(c))
}

func (a *API) listCandidateActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := recruiter(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), ownership.DefaultActivityLimit, 1, ownership.MaxActivityLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.svc.Candidates.ListActivity(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activityList{Items: nonNil(items)})
}

func (a *API) recordCandidateActivity(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	entry, err := a.svc.Candidates.RecordActivity(r.Context(), r.PathValue("id"), req.entry(rid))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) publish(evt stream.Event) {
	if a.svc.Stream == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = a.clock.Now().UTC()
	}
	a.svc.Stream.Publish(evt)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
