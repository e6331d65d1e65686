package httpapi

import (
	"net/http"
	"time"

	"github.com/searchmarket/search-market-ats/internal/audit"
	"github.com/searchmarket/search-market-ats/internal/references"
)

// publicReference is what the reference sees behind the emailed link.
type publicReference struct {
	ReferenceName string            `json:"reference_name"`
	Status        references.Status `json:"status"`
	Questions     []string          `json:"questions"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

type completeRequest struct {
	Answers []references.Answer `json:"answers"`
}

func toPublicReference(req references.Request) publicReference {
	return publicReference{
		ReferenceName: req.ReferenceName,
		Status:        req.Status,
		Questions:     nonNil(req.Questions),
		CompletedAt:   req.CompletedAt,
	}
}

func (a *API) createReference(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req references.NewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	created, err := a.svc.References.Create(r.Context(), req, rid)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "references.request.create", map[string]any{
		"request_id":   created.ID,
		"candidate_id": created.CandidateID,
	})
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getReference(w http.ResponseWriter, r *http.Request) {
	req, err := a.svc.References.Get(r.Context(), r.PathValue("token"))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicReference(req))
}

func (a *API) completeReference(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	done, err := a.svc.References.Complete(r.Context(), r.PathValue("token"), req.Answers)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "references.request.complete", map[string]any{
		"request_id": done.ID,
		"answers":    len(done.Answers),
	})
	writeJSON(w, http.StatusOK, toPublicReference(done))
}
