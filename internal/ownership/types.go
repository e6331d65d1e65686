package ownership

import "time"

const (
	ClaimWindow         = 24 * time.Hour
	OutboundWindow      = 7 * 24 * time.Hour
	EngagedWindow       = 30 * 24 * time.Hour
	ContractedWindow    = 90 * 24 * time.Hour
	CandidateStaleAfter = 30 * 24 * time.Hour
)

// Candidate is a person a recruiter may place. Only the ownership fields
// matter to the engines; the rest is carried for the API.
type Candidate struct {
	ID                string     `json:"id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Email             string     `json:"email,omitempty"`
	SourcedBy         string     `json:"sourced_by"`
	OwnedBy           string     `json:"owned_by,omitempty"`
	OwnedAt           *time.Time `json:"owned_at,omitempty"`
	ExclusiveUntil    *time.Time `json:"exclusive_until,omitempty"`
	LastTwoWayContact *time.Time `json:"last_two_way_contact,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// CandidateState is derived from the fields on every read and never stored.
type CandidateState string

const (
	CandidateOpen      CandidateState = "open"
	CandidateExclusive CandidateState = "exclusive"
	CandidateOwned     CandidateState = "owned"
)

// CandidateStateAt derives the candidate state at now.
func CandidateStateAt(c Candidate, now time.Time) CandidateState {
	if c.OwnedBy != "" {
		return CandidateOwned
	}
	if c.ExclusiveUntil != nil && c.ExclusiveUntil.After(now) {
		return CandidateExclusive
	}
	return CandidateOpen
}

// Client is an employer. Milestones are set once per ownership cycle.
type Client struct {
	ID                  string     `json:"id"`
	CompanyName         string     `json:"company_name"`
	OwnedBy             string     `json:"owned_by,omitempty"`
	OwnedAt             *time.Time `json:"owned_at,omitempty"`
	FirstOutboundAt     *time.Time `json:"first_outbound_at,omitempty"`
	TwoWayEstablishedAt *time.Time `json:"two_way_established_at,omitempty"`
	ContractSignedAt    *time.Time `json:"contract_signed_at,omitempty"`
	LastTwoWayAt        *time.Time `json:"last_two_way_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ClientState labels a client's position in the staged lifecycle.
type ClientState string

const (
	ClientOpen        ClientState = "open"
	ClientClaimed     ClientState = "claimed"
	ClientClaimedPlus ClientState = "claimed_plus"
	ClientEngaged     ClientState = "engaged"
	ClientContracted  ClientState = "contracted"
	ClientExpired     ClientState = "expired"
)

// Claimable reports whether a new claim may be made in this state.
func (s ClientState) Claimable() bool {
	return s == ClientOpen || s == ClientExpired
}

// ClientStatus is the derived state plus the end of the window that
// currently applies. Deadline is nil for open clients and for windows
// that have no anchor timestamp.
type ClientStatus struct {
	State    ClientState `json:"state"`
	Deadline *time.Time  `json:"deadline,omitempty"`
}

// DeriveClientStatus evaluates the lifecycle rules top-down, first match
// wins. It is a pure function of the client fields and now.
func DeriveClientStatus(c Client, now time.Time) ClientStatus {
	if c.OwnedBy == "" {
		return ClientStatus{State: ClientOpen}
	}
	if c.ContractSignedAt != nil {
		return windowStatus(c.LastTwoWayAt, ContractedWindow, now, ClientContracted)
	}
	if c.TwoWayEstablishedAt != nil {
		return windowStatus(c.LastTwoWayAt, EngagedWindow, now, ClientEngaged)
	}
	if c.FirstOutboundAt != nil {
		return windowStatus(c.FirstOutboundAt, OutboundWindow, now, ClientClaimedPlus)
	}
	if c.OwnedAt != nil {
		return windowStatus(c.OwnedAt, ClaimWindow, now, ClientClaimed)
	}
	return ClientStatus{State: ClientOpen}
}

// windowStatus returns live while anchor is within window of now. A missing
// anchor counts as lapsed.
func windowStatus(anchor *time.Time, window time.Duration, now time.Time, live ClientState) ClientStatus {
	if anchor == nil {
		return ClientStatus{State: ClientExpired}
	}
	deadline := anchor.Add(window)
	if anchor.Before(now.Add(-window)) {
		return ClientStatus{State: ClientExpired, Deadline: &deadline}
	}
	return ClientStatus{State: live, Deadline: &deadline}
}

// AccessGrant lets a recruiter other than the owner work a client.
type AccessGrant struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	RecruiterID string    `json:"recruiter_id"`
	GrantedBy   string    `json:"granted_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func timePtr(t time.Time) *time.Time { return &t }

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
