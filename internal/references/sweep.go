package references

import (
	"context"
	"fmt"
	"time"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/obs"
)

const (
	PassReminders  = "reference_reminders"
	PassNoResponse = "reference_no_response"
)

// Failure is a pass or a single request the sweep could not process.
type Failure struct {
	Pass      string `json:"pass"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Report summarises one reminder sweep.
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	RemindersSent   int       `json:"remindersSent"`
	StatusesChanged int       `json:"statusesChanged"`
	Failures        []Failure `json:"failures,omitempty"`
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// Sweeper sends due reminders and closes unanswered requests.
type Sweeper struct {
	store    Store
	notifier Notifier
	clock    clock.Clock
}

func NewSweeper(store Store, notifier Notifier, clk clock.Clock) *Sweeper {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Sweeper{store: store, notifier: notifier, clock: clk}
}

// Run executes both passes once. A request whose reminder fails keeps
// reminder_sent_at empty and is retried by the next run.
func (s *Sweeper) Run(ctx context.Context) Report {
	start := time.Now()
	now := s.clock.Now()
	report := Report{Timestamp: now}
	log := obs.Logger().With("job", "reference_sweep")

	due, err := s.store.ListDueReminders(ctx, now.Add(-ReminderAfter))
	if err != nil {
		report.fail(PassReminders, "", fmt.Errorf("list due reminders: %w", err))
		log.Error("sweep pass failed", "pass", PassReminders, "error", err)
	}
	for _, r := range due {
		if err := s.notifier.Remind(ctx, r); err != nil {
			report.fail(PassReminders, r.ID, fmt.Errorf("remind: %w", err))
			log.Error("reference reminder failed", "request_id", r.ID, "error", err)
			continue
		}
		ok, err := s.store.MarkReminded(ctx, r.ID, now)
		if err != nil {
			report.fail(PassReminders, r.ID, fmt.Errorf("mark reminded: %w", err))
			log.Error("reference reminder not recorded", "request_id", r.ID, "error", err)
			continue
		}
		if ok {
			report.RemindersSent++
		}
	}

	changed, err := s.store.ExpireUnanswered(ctx, now.Add(-NoResponseAfter))
	if err != nil {
		report.fail(PassNoResponse, "", fmt.Errorf("expire unanswered: %w", err))
		log.Error("sweep pass failed", "pass", PassNoResponse, "error", err)
	} else {
		report.StatusesChanged = changed
	}

	obs.SweepChanged("reference_reminded", report.RemindersSent)
	obs.SweepChanged("reference_no_response", report.StatusesChanged)
	obs.ObserveSweep("references", time.Since(start))
	log.Info("sweep finished",
		"reminders_sent", report.RemindersSent,
		"statuses_changed", report.StatusesChanged,
		"failures", len(report.Failures),
	)
	return report
}

func (r *Report) fail(pass, requestID string, err error) {
	obs.SweepFailure(pass)
	r.Failures = append(r.Failures, Failure{Pass: pass, RequestID: requestID, Error: err.Error()})
}
