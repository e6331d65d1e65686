package ownership

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidActivity = errors.New("invalid activity")
)

// Reason is the machine-readable code of a policy rejection.
type Reason string

const (
	ReasonNotClaimable     Reason = "not_claimable"
	ReasonClaimLost        Reason = "claim_lost"
	ReasonNotOwner         Reason = "not_owner"
	ReasonNotOwned         Reason = "not_owned"
	ReasonTwoWayRequired   Reason = "two_way_required"
	ReasonAlreadyGranted   Reason = "already_granted"
	ReasonSelfGrant        Reason = "self_grant"
	ReasonReservedActivity Reason = "reserved_activity"
)

// RejectedError is returned when an operation is refused by ownership policy.
// Nothing has been written when it is returned.
type RejectedError struct {
	Reason Reason
	msg    string
}

func (e *RejectedError) Error() string { return e.msg }

var (
	ErrNotClaimable     = &RejectedError{Reason: ReasonNotClaimable, msg: "record is not claimable"}
	ErrClaimLost        = &RejectedError{Reason: ReasonClaimLost, msg: "record was claimed by another recruiter"}
	ErrNotOwner         = &RejectedError{Reason: ReasonNotOwner, msg: "only the current owner may do this"}
	ErrNotOwned         = &RejectedError{Reason: ReasonNotOwned, msg: "record has no owner"}
	ErrTwoWayRequired   = &RejectedError{Reason: ReasonTwoWayRequired, msg: "two-way communication must be established first"}
	ErrAlreadyGranted   = &RejectedError{Reason: ReasonAlreadyGranted, msg: "recruiter already has access"}
	ErrSelfGrant        = &RejectedError{Reason: ReasonSelfGrant, msg: "owner cannot grant access to themself"}
	ErrReservedActivity = &RejectedError{Reason: ReasonReservedActivity, msg: "claimed and released entries are written by the system"}
)

// IsRejected reports whether err is a policy rejection rather than a
// validation or storage failure.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// RejectionReason returns the reason code carried by err, if any.
func RejectionReason(err error) (Reason, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
