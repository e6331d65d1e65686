package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/searchmarket/search-market-ats/internal/auth"
	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/obs"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
	"github.com/searchmarket/search-market-ats/internal/stream"
)

const serviceName = "search-market-ats"

// ReadyProbe checks the backing store. A nil DB means the in-memory store.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain components served over HTTP.
type Services struct {
	Candidates     *ownership.CandidateEngine
	Clients        *ownership.ClientEngine
	CandidateSweep *ownership.Sweeper
	References     *references.Service
	ReferenceSweep *references.Sweeper
	Stream         *stream.Stream
	// Auth verifies recruiter bearer tokens. When nil every protected
	// route answers 401.
	Auth *auth.Authenticator
}

// Options tune the middleware chain.
type Options struct {
	CronSecret     string
	RateBurst      int
	RatePerSecond  float64
	MaxBodyBytes   int64
	AllowedOrigins []string
	Clock          clock.Clock
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        Services
	opts       Options
	clock      clock.Clock
}

func New(rp ReadyProbe, version string, svc Services, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		opts:       opts,
		clock:      clk,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/candidates", a.createCandidate)
	a.mux.HandleFunc("GET /v1/candidates/{id}", a.getCandidate)
	a.mux.HandleFunc("DELETE /v1/candidates/{id}", a.deleteCandidate)
	a.mux.HandleFunc("POST /v1/candidates/{id}/claim", a.claimCandidate)
	a.mux.HandleFunc("POST /v1/candidates/{id}/release", a.releaseCandidate)
	a.mux.HandleFunc("GET /v1/candidates/{id}/activities", a.listCandidateActivity)
	a.mux.HandleFunc("POST /v1/candidates/{id}/activities", a.recordCandidateActivity)

	a.mux.HandleFunc("POST /v1/clients", a.createClient)
	a.mux.HandleFunc("GET /v1/clients/{id}", a.getClient)
	a.mux.HandleFunc("POST /v1/clients/{id}/claim", a.claimClient)
	a.mux.HandleFunc("POST /v1/clients/{id}/release", a.releaseClient)
	a.mux.HandleFunc("POST /v1/clients/{id}/contract", a.signContract)
	a.mux.HandleFunc("GET /v1/clients/{id}/activities", a.listClientActivity)
	a.mux.HandleFunc("POST /v1/clients/{id}/activities", a.recordClientActivity)
	a.mux.HandleFunc("GET /v1/clients/{id}/access", a.listGrants)
	a.mux.HandleFunc("POST /v1/clients/{id}/access", a.grantAccess)
	a.mux.HandleFunc("DELETE /v1/clients/{id}/access/{grantID}", a.revokeAccess)

	admin := RequireRole(auth.RoleAdmin)
	a.mux.Handle("POST /v1/admin/candidates/{id}/release", admin(http.HandlerFunc(a.forceReleaseCandidate)))
	a.mux.Handle("POST /v1/admin/clients/{id}/release", admin(http.HandlerFunc(a.forceReleaseClient)))

	a.mux.HandleFunc("POST /v1/references", a.createReference)
	a.mux.HandleFunc("GET /v1/references/{token}", a.getReference)
	a.mux.HandleFunc("POST /v1/references/{token}", a.completeReference)

	a.mux.HandleFunc("GET /v1/events", a.Stream)

	a.mux.HandleFunc("GET /v1/cron/ownership-check", a.cronOwnershipCheck)
	a.mux.HandleFunc("POST /v1/cron/ownership-check", a.cronOwnershipCheck)
	a.mux.HandleFunc("GET /v1/cron/reference-reminders", a.cronReferenceReminders)
	a.mux.HandleFunc("POST /v1/cron/reference-reminders", a.cronReferenceReminders)

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.clock.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
