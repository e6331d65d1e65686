package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/searchmarket/search-market-ats/internal/ownership"
)

const candidateColumns = `id, first_name, last_name, email, sourced_by, owned_by, owned_at, exclusive_until, last_two_way_contact, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (ownership.Candidate, error) {
	var (
		c                            ownership.Candidate
		owner                        sql.NullString
		ownedAt, exclusive, lastSeen sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.SourcedBy, &owner, &ownedAt, &exclusive, &lastSeen, &c.CreatedAt); err != nil {
		return ownership.Candidate{}, err
	}
	c.OwnedBy = owner.String
	c.OwnedAt = timePtr(ownedAt)
	c.ExclusiveUntil = timePtr(exclusive)
	c.LastTwoWayContact = timePtr(lastSeen)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) CreateCandidate(ctx context.Context, c ownership.Candidate) (ownership.Candidate, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into candidates (id, first_name, last_name, email, sourced_by, owned_by, owned_at, exclusive_until, last_two_way_contact, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+candidateColumns,
		c.ID, c.FirstName, c.LastName, c.Email, c.SourcedBy,
		nullIfEmpty(c.OwnedBy), nullTime(c.OwnedAt), nullTime(c.ExclusiveUntil), nullTime(c.LastTwoWayContact), c.CreatedAt)
	out, err := scanCandidate(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ownership.Candidate{}, ownership.ErrInvalidInput
		}
		return ownership.Candidate{}, err
	}
	return out, nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (ownership.Candidate, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx, `select `+candidateColumns+` from candidates where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ownership.Candidate{}, ownership.ErrNotFound
	}
	return c, err
}

// DeleteCandidate removes the row; ledger and reference rows go by cascade.
func (s *Store) DeleteCandidate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from candidates where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ownership.ErrNotFound
	}
	return nil
}

func (s *Store) SetCandidateOwner(ctx context.Context, id string, guard ownership.CandidateGuard, owner string, ownedAt *time.Time) (bool, error) {
	if owner == "" {
		ownedAt = nil
	}
	query := `
		update candidates set owned_by = nullif($2, ''), owned_at = $3
		where id = $1 and owned_by is not distinct from nullif($4, '')`
	args := []any{id, owner, nullTime(ownedAt), guard.Owner}
	if guard.CheckContact {
		query += ` and last_two_way_contact is not distinct from $5`
		args = append(args, nullTime(guard.LastTwoWay))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return s.settle(ctx, res, "candidates", id)
}

func (s *Store) TouchCandidateContact(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update candidates set last_two_way_contact = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ownership.ErrNotFound
	}
	return nil
}

func (s *Store) ListStaleClaims(ctx context.Context, claimedBefore time.Time) ([]ownership.Candidate, error) {
	return s.listCandidates(ctx, `
		select `+candidateColumns+` from candidates
		where owned_by is not null and last_two_way_contact is null and owned_at < $1
		order by id`, claimedBefore)
}

func (s *Store) ListStaleOwnership(ctx context.Context, contactBefore time.Time) ([]ownership.Candidate, error) {
	return s.listCandidates(ctx, `
		select `+candidateColumns+` from candidates
		where owned_by is not null and last_two_way_contact < $1
		order by id`, contactBefore)
}

func (s *Store) listCandidates(ctx context.Context, query string, args ...any) ([]ownership.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ownership.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ClearExpiredExclusive(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `update candidates set exclusive_until = null where exclusive_until < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
