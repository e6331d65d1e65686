package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/searchmarket/search-market-ats/internal/ownership"
)

const clientColumns = `id, company_name, owned_by, owned_at, first_outbound_at, two_way_established_at, contract_signed_at, last_two_way_at, created_at`

func scanClient(row rowScanner) (ownership.Client, error) {
	var (
		c                                         ownership.Client
		owner                                     sql.NullString
		ownedAt, outbound, twoWay, signed, latest sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.CompanyName, &owner, &ownedAt, &outbound, &twoWay, &signed, &latest, &c.CreatedAt); err != nil {
		return ownership.Client{}, err
	}
	c.OwnedBy = owner.String
	c.OwnedAt = timePtr(ownedAt)
	c.FirstOutboundAt = timePtr(outbound)
	c.TwoWayEstablishedAt = timePtr(twoWay)
	c.ContractSignedAt = timePtr(signed)
	c.LastTwoWayAt = timePtr(latest)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, c ownership.Client) (ownership.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into clients (id, company_name, owned_by, owned_at, created_at)
		values ($1, $2, $3, $4, $5)
		returning `+clientColumns, c.ID, c.CompanyName, nullIfEmpty(c.OwnedBy), nullTime(c.OwnedAt), c.CreatedAt)
	out, err := scanClient(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ownership.Client{}, ownership.ErrInvalidInput
		}
		return ownership.Client{}, err
	}
	return out, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (ownership.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from clients where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ownership.Client{}, ownership.ErrNotFound
	}
	return c, err
}

func (s *Store) ClaimClient(ctx context.Context, id string, guard ownership.ClientGuard, owner string, at time.Time, revokeGrants bool) (bool, error) {
	won := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update clients set
				owned_by = $2, owned_at = $3,
				first_outbound_at = null, two_way_established_at = null,
				contract_signed_at = null, last_two_way_at = null
			where id = $1
				and owned_by is not distinct from nullif($4, '')
				and owned_at is not distinct from $5
		`, id, owner, at, guard.Owner, nullTime(guard.OwnedAt))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		won = true
		if revokeGrants {
			if _, err := tx.ExecContext(ctx, `delete from client_access where client_id = $1`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !won {
		return s.notFoundOrLost(ctx, id)
	}
	return true, nil
}

// ReleaseClient clears ownership and deletes the grants in one transaction.
func (s *Store) ReleaseClient(ctx context.Context, id, owner string) (bool, error) {
	won := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update clients set
				owned_by = null, owned_at = null,
				first_outbound_at = null, two_way_established_at = null,
				contract_signed_at = null, last_two_way_at = null
			where id = $1 and owned_by = $2
		`, id, owner)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		won = true
		_, err = tx.ExecContext(ctx, `delete from client_access where client_id = $1`, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if !won {
		return s.notFoundOrLost(ctx, id)
	}
	return true, nil
}

// ApplyClientMilestones fills empty milestones and refreshes last_two_way_at,
// only while owner still owns the client.
func (s *Store) ApplyClientMilestones(ctx context.Context, id, owner string, m ownership.Milestones) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update clients set
			first_outbound_at = coalesce(first_outbound_at, $3),
			two_way_established_at = coalesce(two_way_established_at, $4),
			contract_signed_at = coalesce(contract_signed_at, $5),
			last_two_way_at = coalesce($4, last_two_way_at)
		where id = $1 and owned_by = $2
	`, id, owner, nullTime(m.FirstOutboundAt), nullTime(m.TwoWayAt), nullTime(m.ContractSignedAt))
	if err != nil {
		return false, err
	}
	return s.settle(ctx, res, "clients", id)
}

func (s *Store) notFoundOrLost(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, s.db, "clients", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ownership.ErrNotFound
	}
	return false, nil
}
