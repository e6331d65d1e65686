package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/searchmarket/search-market-ats/internal/references"
)

const referenceColumns = `id, candidate_id, recruiter_id, reference_name, reference_email, token, status, questions, answers, last_sent_at, reminder_sent_at, completed_at, created_at`

func scanReference(row rowScanner) (references.Request, error) {
	var (
		r                  references.Request
		status             string
		questions, answers []byte
		reminded, done     sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.CandidateID, &r.RecruiterID, &r.ReferenceName, &r.ReferenceEmail, &r.Token,
		&status, &questions, &answers, &r.LastSentAt, &reminded, &done, &r.CreatedAt); err != nil {
		return references.Request{}, err
	}
	r.Status = references.Status(status)
	r.ReminderSentAt = timePtr(reminded)
	r.CompletedAt = timePtr(done)
	r.LastSentAt = r.LastSentAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &r.Questions); err != nil {
			return references.Request{}, fmt.Errorf("decode questions: %w", err)
		}
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &r.Answers); err != nil {
			return references.Request{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r references.Request) (references.Request, error) {
	questions := r.Questions
	if questions == nil {
		questions = []string{}
	}
	qJSON, err := json.Marshal(questions)
	if err != nil {
		return references.Request{}, fmt.Errorf("marshal questions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into reference_requests (id, candidate_id, recruiter_id, reference_name, reference_email, token, status, questions, last_sent_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+referenceColumns,
		r.ID, r.CandidateID, r.RecruiterID, r.ReferenceName, r.ReferenceEmail, r.Token, string(r.Status), qJSON, r.LastSentAt, r.CreatedAt)
	out, err := scanReference(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return references.Request{}, references.ErrInvalidInput
		}
		return references.Request{}, err
	}
	return out, nil
}

func (s *Store) GetRequestByToken(ctx context.Context, token string) (references.Request, error) {
	r, err := scanReference(s.db.QueryRowContext(ctx, `select `+referenceColumns+` from reference_requests where token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return references.Request{}, references.ErrNotFound
	}
	return r, err
}

func (s *Store) CompleteRequest(ctx context.Context, token string, answers []references.Answer, at time.Time) (bool, error) {
	if answers == nil {
		answers = []references.Answer{}
	}
	aJSON, err := json.Marshal(answers)
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update reference_requests set status = 'completed', answers = $2, completed_at = $3
		where token = $1 and status = 'pending'
	`, token, aJSON, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetRequestByToken(ctx, token); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListDueReminders(ctx context.Context, sentBefore time.Time) ([]references.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+referenceColumns+` from reference_requests
		where status = 'pending' and reminder_sent_at is null and last_sent_at < $1
		order by id
	`, sentBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []references.Request
	for rows.Next() {
		r, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update reference_requests set reminder_sent_at = $2
		where id = $1 and status = 'pending' and reminder_sent_at is null
	`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	ok, err := exists(ctx, s.db, "reference_requests", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, references.ErrNotFound
	}
	return false, nil
}

func (s *Store) ExpireUnanswered(ctx context.Context, sentBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update reference_requests set status = 'no_response'
		where status = 'pending' and reminder_sent_at is not null and last_sent_at < $1
	`, sentBefore)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
