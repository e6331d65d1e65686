package ownership

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EntityKind selects which ledger an entry belongs to.
type EntityKind string

const (
	EntityCandidate EntityKind = "candidate"
	EntityClient    EntityKind = "client"
)

// ActivityType enumerates what a recruiter did.
type ActivityType string

const (
	ActivityNote            ActivityType = "note"
	ActivityMessage         ActivityType = "message"
	ActivityCall            ActivityType = "call"
	ActivityLinkedIn        ActivityType = "linkedin"
	ActivityMeeting         ActivityType = "meeting"
	ActivityInterview       ActivityType = "interview"
	ActivityClientInterview ActivityType = "client_interview"
	ActivityContractSent    ActivityType = "contract_sent"
	ActivityContractSigned  ActivityType = "contract_signed"
	ActivityStatusChange    ActivityType = "status_change"

	// Written only by the engines and the sweep.
	ActivityClaimed  ActivityType = "claimed"
	ActivityReleased ActivityType = "released"
)

var knownActivities = map[ActivityType]bool{
	ActivityNote: true, ActivityMessage: true, ActivityCall: true, ActivityLinkedIn: true,
	ActivityMeeting: true, ActivityInterview: true, ActivityClientInterview: true,
	ActivityContractSent: true, ActivityContractSigned: true, ActivityStatusChange: true,
	ActivityClaimed: true, ActivityReleased: true,
}

// Reserved reports whether only the system may write this type.
func (t ActivityType) Reserved() bool {
	return t == ActivityClaimed || t == ActivityReleased
}

// Direction of a communication.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Channel is the medium of a communication.
type Channel string

const (
	ChannelNone     Channel = ""
	ChannelEmail    Channel = "email"
	ChannelPhone    Channel = "phone"
	ChannelSMS      Channel = "sms"
	ChannelLinkedIn Channel = "linkedin"
	ChannelInPerson Channel = "in_person"
	ChannelSystem   Channel = "system"
)

var knownChannels = map[Channel]bool{
	ChannelNone: true, ChannelEmail: true, ChannelPhone: true, ChannelSMS: true,
	ChannelLinkedIn: true, ChannelInPerson: true, ChannelSystem: true,
}

// ActivityEntry is one immutable row of a candidate or client ledger.
type ActivityEntry struct {
	ID              string         `json:"id"`
	Entity          EntityKind     `json:"entity"`
	EntityID        string         `json:"entity_id"`
	RecruiterID     string         `json:"recruiter_id"`
	Type            ActivityType   `json:"activity_type"`
	Direction       Direction      `json:"direction,omitempty"`
	Channel         Channel        `json:"channel,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// CallAnswered reports metadata.answered for call entries.
func (e ActivityEntry) CallAnswered() bool {
	if e.Type != ActivityCall || e.Metadata == nil {
		return false
	}
	answered, _ := e.Metadata["answered"].(bool)
	return answered
}

// IsTwoWay classifies the entry: inbound traffic, a meeting-like event, a
// signed contract, or an answered call count as two-way communication.
func (e ActivityEntry) IsTwoWay() bool {
	if e.Direction == DirectionInbound {
		return true
	}
	switch e.Type {
	case ActivityMeeting, ActivityInterview, ActivityClientInterview, ActivityContractSigned:
		return true
	case ActivityCall:
		return e.CallAnswered()
	}
	return false
}

// validate checks a recruiter-supplied entry. Reserved types are rejected by
// the engines separately so the caller gets a policy reason.
func (e ActivityEntry) validate() error {
	if strings.TrimSpace(e.RecruiterID) == "" {
		return fmt.Errorf("%w: recruiter is required", ErrInvalidActivity)
	}
	if !knownActivities[e.Type] {
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidActivity, e.Type)
	}
	switch e.Direction {
	case DirectionNone, DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidActivity, e.Direction)
	}
	if !knownChannels[e.Channel] {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidActivity, e.Channel)
	}
	if e.DurationSeconds != nil && (*e.DurationSeconds < 0 || *e.DurationSeconds > math.MaxInt32) {
		return fmt.Errorf("%w: duration must be between 0 and %d", ErrInvalidActivity, math.MaxInt32)
	}
	return nil
}

// clone returns a copy that shares no mutable state with e.
func (e ActivityEntry) clone() ActivityEntry {
	if e.DurationSeconds != nil {
		d := *e.DurationSeconds
		e.DurationSeconds = &d
	}
	if e.Metadata != nil {
		e.Metadata = cloneValue(e.Metadata).(map[string]any)
	}
	return e
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}
