package references

import (
	"context"

	"github.com/searchmarket/search-market-ats/internal/obs"
)

// Notifier delivers reminder messages. Email delivery lives outside this
// service; implementations adapt whatever transport the deployment uses.
type Notifier interface {
	Remind(ctx context.Context, r Request) error
}

// LogNotifier writes a log line instead of sending anything.
type LogNotifier struct{}

func (LogNotifier) Remind(ctx context.Context, r Request) error {
	obs.Logger().Info("reference reminder",
		"request_id", r.ID,
		"candidate_id", r.CandidateID,
		"reference_email", r.ReferenceEmail,
	)
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r Request) error

func (f NotifierFunc) Remind(ctx context.Context, r Request) error { return f(ctx, r) }
