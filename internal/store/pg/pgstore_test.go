package pg

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(db), mock
}

var candidateCols = []string{"id", "first_name", "last_name", "email", "sourced_by", "owned_by", "owned_at", "exclusive_until", "last_two_way_contact", "created_at"}

func TestGetCandidate(t *testing.T) {
	s, mock := newMock(t)
	owned := now.Add(-time.Hour)
	mock.ExpectQuery("from candidates where id").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(candidateCols).
			AddRow("c1", "Ada", "Lovelace", "", "r0", "r1", owned, nil, nil, now))

	c, err := s.GetCandidate(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if c.OwnedBy != "r1" || c.OwnedAt == nil || !c.OwnedAt.Equal(owned) {
		t.Fatalf("unexpected ownership: %+v", c)
	}
	if c.ExclusiveUntil != nil || c.LastTwoWayContact != nil {
		t.Fatalf("expected null timestamps to stay nil: %+v", c)
	}
}

func TestGetCandidateNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from candidates where id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	if _, err := s.GetCandidate(context.Background(), "nope"); !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCandidateOwnerWins(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update candidates set owned_by").
		WithArgs("c1", "r1", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := s.SetCandidateOwner(context.Background(), "c1", ownership.CandidateGuard{}, "r1", &now)
	if err != nil || !won {
		t.Fatalf("expected win, got won=%v err=%v", won, err)
	}
}

func TestSetCandidateOwnerLost(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update candidates set owned_by").
		WithArgs("c1", "r2", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from candidates").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	won, err := s.SetCandidateOwner(context.Background(), "c1", ownership.CandidateGuard{}, "r2", &now)
	if err != nil || won {
		t.Fatalf("expected lost claim, got won=%v err=%v", won, err)
	}
}

func TestSetCandidateOwnerMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update candidates set owned_by").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from candidates").WithArgs("c9").WillReturnError(sql.ErrNoRows)

	_, err := s.SetCandidateOwner(context.Background(), "c9", ownership.CandidateGuard{}, "r1", &now)
	if !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCandidateOwnerChecksContact(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("last_two_way_contact is not distinct from").
		WithArgs("c1", "", nil, "r1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	guard := ownership.CandidateGuard{Owner: "r1", CheckContact: true}
	won, err := s.SetCandidateOwner(context.Background(), "c1", guard, "", nil)
	if err != nil || !won {
		t.Fatalf("expected release, got won=%v err=%v", won, err)
	}
}

func TestListStaleClaims(t *testing.T) {
	s, mock := newMock(t)
	cutoff := now.Add(-24 * time.Hour)
	mock.ExpectQuery("last_two_way_contact is null and owned_at <").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(candidateCols).
			AddRow("c1", "A", "B", "", "r0", "r1", now.Add(-25*time.Hour), nil, nil, now).
			AddRow("c2", "C", "D", "", "r0", "r2", now.Add(-30*time.Hour), nil, nil, now))

	got, err := s.ListStaleClaims(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ListStaleClaims: %v", err)
	}
	if len(got) != 2 || got[1].OwnedBy != "r2" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestClearExpiredExclusive(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("set exclusive_until = null").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ClearExpiredExclusive(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 cleared, got %d err=%v", n, err)
	}
}

func TestClaimClientRevokesGrantsInTx(t *testing.T) {
	s, mock := newMock(t)
	owned := now.Add(-48 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectExec("update clients set").
		WithArgs("k1", "r2", now, "r1", owned).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from client_access where client_id").
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	won, err := s.ClaimClient(context.Background(), "k1", ownership.ClientGuard{Owner: "r1", OwnedAt: &owned}, "r2", now, true)
	if err != nil || !won {
		t.Fatalf("expected win, got won=%v err=%v", won, err)
	}
}

func TestClaimClientLost(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update clients set").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("select 1 from clients").WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	won, err := s.ClaimClient(context.Background(), "k1", ownership.ClientGuard{}, "r2", now, false)
	if err != nil || won {
		t.Fatalf("expected lost claim, got won=%v err=%v", won, err)
	}
}

func TestReleaseClientRollsBackOnGrantFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update clients set").WithArgs("k1", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from client_access where client_id").WithArgs("k1").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := s.ReleaseClient(context.Background(), "k1", "r1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyClientMilestones(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("coalesce\\(first_outbound_at").
		WithArgs("k1", "r1", now, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ApplyClientMilestones(context.Background(), "k1", "r1", ownership.Milestones{FirstOutboundAt: &now})
	if err != nil || !ok {
		t.Fatalf("expected applied, got ok=%v err=%v", ok, err)
	}
}

func TestInsertGrantDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into client_access").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.InsertGrant(context.Background(), ownership.AccessGrant{ID: "g1", ClientID: "k1", RecruiterID: "r2", GrantedBy: "r1", CreatedAt: now})
	if !errors.Is(err, ownership.ErrAlreadyGranted) {
		t.Fatalf("expected ErrAlreadyGranted, got %v", err)
	}
}

func TestInsertGrantUnknownClient(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into client_access").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := s.InsertGrant(context.Background(), ownership.AccessGrant{ID: "g1", ClientID: "missing"})
	if !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteGrantMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from client_access where id").WithArgs("g1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteGrant(context.Background(), "g1"); !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendActivityRoutesByEntity(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into client_activity_logs \\(id, client_id").
		WithArgs("a1", "k1", "r1", "call", nil, "phone", "", nil, []byte(`{"answered":true}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.AppendActivity(context.Background(), ownership.ActivityEntry{
		ID: "a1", Entity: ownership.EntityClient, EntityID: "k1", RecruiterID: "r1",
		Type: ownership.ActivityCall, Channel: ownership.ChannelPhone,
		Metadata: map[string]any{"answered": true}, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}
}

func TestAppendActivityRejectsOversizedDuration(t *testing.T) {
	s, _ := newMock(t)
	d := math.MaxInt32 + 6
	_, err := s.AppendActivity(context.Background(), ownership.ActivityEntry{
		ID: "a1", Entity: ownership.EntityClient, EntityID: "k1", RecruiterID: "r1",
		Type: ownership.ActivityCall, DurationSeconds: &d, CreatedAt: now,
	})
	if !errors.Is(err, ownership.ErrInvalidActivity) {
		t.Fatalf("expected ErrInvalidActivity, got %v", err)
	}
}

func TestListActivityDecodesRows(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "candidate_id", "recruiter_id", "activity_type", "direction", "channel", "notes", "duration_seconds", "metadata", "created_at"}
	mock.ExpectQuery("from activity_logs").
		WithArgs("c1", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a2", "c1", "r1", "call", "outbound", "phone", "", int64(90), []byte(`{"answered":true,"duration":90}`), now).
			AddRow("a1", "c1", "r1", "claimed", "", "system", "Candidate claimed", nil, nil, now.Add(-time.Hour)))

	got, err := s.ListActivity(context.Background(), ownership.EntityCandidate, "c1", 0)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if !got[0].IsTwoWay() || got[0].DurationSeconds == nil || *got[0].DurationSeconds != 90 {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Type != ownership.ActivityClaimed || got[1].Metadata != nil {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
}

func TestCompleteRequestNotPending(t *testing.T) {
	s, mock := newMock(t)
	token := "6f1c2b1e-1d7a-4b8e-9c3f-0a5d2e7b9c11"
	mock.ExpectExec("update reference_requests set status = 'completed'").
		WithArgs(token, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	cols := []string{"id", "candidate_id", "recruiter_id", "reference_name", "reference_email", "token", "status", "questions", "answers", "last_sent_at", "reminder_sent_at", "completed_at", "created_at"}
	mock.ExpectQuery("from reference_requests where token").
		WithArgs(token).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("q1", "c1", "r1", "Alan", "alan@example.com", token, "no_response", []byte(`[]`), nil, now, now, nil, now))

	ok, err := s.CompleteRequest(context.Background(), token, nil, now)
	if err != nil || ok {
		t.Fatalf("expected not completed, got ok=%v err=%v", ok, err)
	}
}

func TestExpireUnanswered(t *testing.T) {
	s, mock := newMock(t)
	cutoff := now.Add(-references.NoResponseAfter)
	mock.ExpectExec("set status = 'no_response'").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ExpireUnanswered(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("expected 4, got %d err=%v", n, err)
	}
}
