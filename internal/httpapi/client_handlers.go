package httpapi

import (
	"net/http"

	"github.com/searchmarket/search-market-ats/internal/audit"
	"github.com/searchmarket/search-market-ats/internal/auth"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/stream"
)

type clientView struct {
	ownership.Client
	Status    ownership.ClientStatus `json:"status"`
	HasAccess bool                   `json:"has_access"`
}

type contractRequest struct {
	Notes string `json:"notes"`
}

type grantRequest struct {
	RecruiterID string `json:"recruiter_id"`
}

type grantList struct {
	Items []ownership.AccessGrant `json:"items"`
}

func (a *API) clientView(r *http.Request, c ownership.Client, recruiterID string) (clientView, error) {
	access, err := a.svc.Clients.HasAccess(r.Context(), c.ID, recruiterID, auth.HasRole(r.Context(), auth.RoleAdmin))
	if err != nil {
		return clientView{}, err
	}
	return clientView{Client: c, Status: a.svc.Clients.Status(c), HasAccess: access}, nil
}

func (a *API) writeClient(w http.ResponseWriter, r *http.Request, code int, c ownership.Client, recruiterID string) {
	view, err := a.clientView(r, c, recruiterID)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, code, view)
}

func (a *API) createClient(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req ownership.NewClient
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.svc.Clients.Create(r.Context(), req, rid)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.create", map[string]any{
		"client_id": c.ID,
		"owned_by":  c.OwnedBy,
	})
	a.publish(stream.Event{Kind: stream.KindClaimed, Entity: string(ownership.EntityClient), EntityID: c.ID, RecruiterID: c.OwnedBy})
	a.writeClient(w, r, http.StatusCreated, c, rid)
}

func (a *API) getClient(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Clients.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	a.writeClient(w, r, http.StatusOK, c, rid)
}

func (a *API) claimClient(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Clients.Claim(r.Context(), r.PathValue("id"), rid)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.claim", map[string]any{
		"client_id": c.ID,
	})
	a.publish(stream.Event{Kind: stream.KindClaimed, Entity: string(ownership.EntityClient), EntityID: c.ID, RecruiterID: rid})
	a.writeClient(w, r, http.StatusOK, c, rid)
}

func (a *API) releaseClient(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	c, err := a.svc.Clients.Release(r.Context(), r.PathValue("id"), rid, req.Reason)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.release", map[string]any{
		"client_id": c.ID,
		"reason":    req.Reason,
	})
	a.publish(stream.Event{Kind: stream.KindReleased, Entity: string(ownership.EntityClient), EntityID: c.ID, RecruiterID: rid, Reason: req.Reason})
	a.writeClient(w, r, http.StatusOK, c, rid)
}

func (a *API) forceReleaseClient(w http.ResponseWriter, r *http.Request) {
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
	before, err := a.svc.Clients.Get(r.Context(), id)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	c, err := a.svc.Clients.ForceRelease(r.Context(), id, rid, req.Reason)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.force_release", map[string]any{
		"client_id":      c.ID,
		"previous_owner": before.OwnedBy,
		"reason":         req.Reason,
	})
	a.publish(stream.Event{Kind: stream.KindReleased, Entity: string(ownership.EntityClient), EntityID: c.ID, RecruiterID: before.OwnedBy, Reason: req.Reason})
	a.writeClient(w, r, http.StatusOK, c, rid)
}

func (a *API) signContract(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req contractRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	entry, err := a.svc.Clients.MarkContractSigned(r.Context(), id, rid, req.Notes)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.contract_signed", map[string]any{
		"client_id":   id,
		"activity_id": entry.ID,
	})
	a.publish(stream.Event{Kind: stream.KindContract, Entity: string(ownership.EntityClient), EntityID: id, RecruiterID: rid})
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listClientActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := recruiter(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), ownership.DefaultActivityLimit, 1, ownership.MaxActivityLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.svc.Clients.ListActivity(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activityList{Items: nonNil(items)})
}

func (a *API) recordClientActivity(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	entry, err := a.svc.Clients.RecordActivity(r.Context(), r.PathValue("id"), req.entry(rid))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	if _, ok := recruiter(w, r); !ok {
		return
	}
	grants, err := a.svc.Clients.ListGrants(r.Context(), r.PathValue("id"))
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantList{Items: nonNil(grants)})
}

func (a *API) grantAccess(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	g, err := a.svc.Clients.GrantAccess(r.Context(), r.PathValue("id"), rid, req.RecruiterID)
	if err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.access_granted", map[string]any{
		"client_id": g.ClientID,
		"grant_id":  g.ID,
		"grantee":   g.RecruiterID,
	})
	a.publish(stream.Event{Kind: stream.KindGranted, Entity: string(ownership.EntityClient), EntityID: g.ClientID, RecruiterID: g.RecruiterID})
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) revokeAccess(w http.ResponseWriter, r *http.Request) {
	rid, ok := recruiter(w, r)
	if !ok {
		return
	}
	clientID, grantID := r.PathValue("id"), r.PathValue("grantID")
	if err := a.svc.Clients.RevokeAccess(r.Context(), clientID, grantID, rid); err != nil {
		handleOwnershipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.client.access_revoked", map[string]any{
		"client_id": clientID,
		"grant_id":  grantID,
	})
	a.publish(stream.Event{Kind: stream.KindRevoked, Entity: string(ownership.EntityClient), EntityID: clientID, RecruiterID: rid})
	w.WriteHeader(http.StatusNoContent)
}
