package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/searchmarket/search-market-ats/internal/ownership"
)

func (s *Store) InsertGrant(ctx context.Context, g ownership.AccessGrant) (ownership.AccessGrant, error) {
	var out ownership.AccessGrant
	err := s.db.QueryRowContext(ctx, `
		insert into client_access (id, client_id, recruiter_id, granted_by, created_at)
		values ($1, $2, $3, $4, $5)
		returning id, client_id, recruiter_id, granted_by, created_at
	`, g.ID, g.ClientID, g.RecruiterID, g.GrantedBy, g.CreatedAt).
		Scan(&out.ID, &out.ClientID, &out.RecruiterID, &out.GrantedBy, &out.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return ownership.AccessGrant{}, ownership.ErrAlreadyGranted
			case pgErrForeignKeyViolation:
				return ownership.AccessGrant{}, ownership.ErrNotFound
			}
		}
		return ownership.AccessGrant{}, err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (ownership.AccessGrant, error) {
	var g ownership.AccessGrant
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, recruiter_id, granted_by, created_at
		from client_access where id = $1
	`, id).Scan(&g.ID, &g.ClientID, &g.RecruiterID, &g.GrantedBy, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ownership.AccessGrant{}, ownership.ErrNotFound
	}
	if err != nil {
		return ownership.AccessGrant{}, err
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from client_access where id = $1`, id)
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

func (s *Store) ListGrants(ctx context.Context, clientID string) ([]ownership.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, client_id, recruiter_id, granted_by, created_at
		from client_access where client_id = $1
		order by created_at, id
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ownership.AccessGrant
	for rows.Next() {
		var g ownership.AccessGrant
		if err := rows.Scan(&g.ID, &g.ClientID, &g.RecruiterID, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.CreatedAt = g.CreatedAt.UTC()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
