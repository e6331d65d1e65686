// Package references tracks reference-check requests sent for candidates and
// runs the reminder sweep: one reminder after a day of silence, then the
// request is closed as no_response once three days have passed.
package references

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/ids"
	"github.com/searchmarket/search-market-ats/internal/ownership"
)

const (
	ReminderAfter   = 24 * time.Hour
	NoResponseAfter = 72 * time.Hour
)

var (
	ErrNotFound     = errors.New("reference request not found")
	ErrInvalidInput = errors.New("invalid reference request")
	ErrNotPending   = errors.New("reference request is no longer pending")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusNoResponse Status = "no_response"
)

// Answer is one question/answer pair submitted by the reference.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Request is a reference check sent to a third party. Token is the
// unguessable handle the reference uses to respond.
type Request struct {
	ID             string     `json:"id"`
	CandidateID    string     `json:"candidate_id"`
	RecruiterID    string     `json:"recruiter_id"`
	ReferenceName  string     `json:"reference_name"`
	ReferenceEmail string     `json:"reference_email"`
	Token          string     `json:"token"`
	Status         Status     `json:"status"`
	Questions      []string   `json:"questions,omitempty"`
	Answers        []Answer   `json:"answers,omitempty"`
	LastSentAt     time.Time  `json:"last_sent_at"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Store persists reference requests. Status writes are conditional on the
// request still being pending.
type Store interface {
	CreateRequest(ctx context.Context, r Request) (Request, error)
	GetRequestByToken(ctx context.Context, token string) (Request, error)
	CompleteRequest(ctx context.Context, token string, answers []Answer, at time.Time) (bool, error)
	// ListDueReminders returns pending requests without a reminder whose
	// last send is before the cutoff.
	ListDueReminders(ctx context.Context, sentBefore time.Time) ([]Request, error)
	MarkReminded(ctx context.Context, id string, at time.Time) (bool, error)
	// ExpireUnanswered moves reminded pending requests last sent before
	// the cutoff to no_response and returns how many changed.
	ExpireUnanswered(ctx context.Context, sentBefore time.Time) (int, error)
}

// CandidateLookup is the slice of the candidate store the service needs.
type CandidateLookup interface {
	GetCandidate(ctx context.Context, id string) (ownership.Candidate, error)
}

// NewRequest is the input of Service.Create.
type NewRequest struct {
	CandidateID    string   `json:"candidate_id"`
	ReferenceName  string   `json:"reference_name"`
	ReferenceEmail string   `json:"reference_email"`
	Questions      []string `json:"questions"`
}

// Service creates and completes reference requests.
type Service struct {
	store      Store
	candidates CandidateLookup
	clock      clock.Clock
}

func NewService(store Store, candidates CandidateLookup, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{store: store, candidates: candidates, clock: clk}
}

// Create records a pending request as sent now.
func (s *Service) Create(ctx context.Context, in NewRequest, recruiterID string) (Request, error) {
	if strings.TrimSpace(recruiterID) == "" {
		return Request{}, fmt.Errorf("%w: recruiter is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.ReferenceName)
	if name == "" {
		return Request{}, fmt.Errorf("%w: reference_name is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.ReferenceEmail))
	if err != nil {
		return Request{}, fmt.Errorf("%w: reference_email: %v", ErrInvalidInput, err)
	}
	if _, err := s.candidates.GetCandidate(ctx, in.CandidateID); err != nil {
		return Request{}, err
	}

	var questions []string
	for _, q := range in.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	now := s.clock.Now()
	return s.store.CreateRequest(ctx, Request{
		ID:             ids.NewAt(now),
		CandidateID:    in.CandidateID,
		RecruiterID:    recruiterID,
		ReferenceName:  name,
		ReferenceEmail: addr.Address,
		Token:          uuid.NewString(),
		Status:         StatusPending,
		Questions:      questions,
		LastSentAt:     now,
		CreatedAt:      now,
	})
}

// Get looks a request up by its public token.
func (s *Service) Get(ctx context.Context, token string) (Request, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Request{}, ErrNotFound
	}
	return s.store.GetRequestByToken(ctx, token)
}

// Complete stores the reference's answers. Only pending requests accept
// answers; a request already closed as no_response stays closed.
func (s *Service) Complete(ctx context.Context, token string, answers []Answer) (Request, error) {
	r, err := s.Get(ctx, token)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending {
		return Request{}, ErrNotPending
	}
	now := s.clock.Now()
	ok, err := s.store.CompleteRequest(ctx, token, answers, now)
	if err != nil {
		return Request{}, fmt.Errorf("complete reference: %w", err)
	}
	if !ok {
		return Request{}, ErrNotPending
	}
	r.Status = StatusCompleted
	r.Answers = answers
	r.CompletedAt = &now
	return r, nil
}
