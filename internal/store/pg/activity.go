package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/searchmarket/search-market-ats/internal/ownership"
)

// activityTable maps an entity kind to its ledger table and key column.
func activityTable(kind ownership.EntityKind) (table, key string, err error) {
	switch kind {
	case ownership.EntityCandidate:
		return "activity_logs", "candidate_id", nil
	case ownership.EntityClient:
		return "client_activity_logs", "client_id", nil
	}
	return "", "", fmt.Errorf("%w: unknown entity %q", ownership.ErrInvalidActivity, kind)
}

func (s *Store) AppendActivity(ctx context.Context, e ownership.ActivityEntry) (ownership.ActivityEntry, error) {
	table, key, err := activityTable(e.Entity)
	if err != nil {
		return ownership.ActivityEntry{}, err
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return ownership.ActivityEntry{}, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	var duration sql.NullInt32
	if e.DurationSeconds != nil {
		if *e.DurationSeconds < 0 || *e.DurationSeconds > math.MaxInt32 {
			return ownership.ActivityEntry{}, fmt.Errorf("%w: duration out of range", ownership.ErrInvalidActivity)
		}
		duration = sql.NullInt32{Int32: int32(*e.DurationSeconds), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		insert into `+table+` (id, `+key+`, recruiter_id, activity_type, direction, channel, notes, duration_seconds, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.EntityID, e.RecruiterID, string(e.Type), nullIfEmpty(string(e.Direction)), nullIfEmpty(string(e.Channel)),
		e.Notes, duration, meta, e.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ownership.ActivityEntry{}, ownership.ErrNotFound
		}
		return ownership.ActivityEntry{}, err
	}
	return e, nil
}

// ListActivity returns entries newest first.
func (s *Store) ListActivity(ctx context.Context, kind ownership.EntityKind, entityID string, limit int) ([]ownership.ActivityEntry, error) {
	table, key, err := activityTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, `+key+`, recruiter_id, activity_type, coalesce(direction, ''), coalesce(channel, ''),
			notes, duration_seconds, metadata, created_at
		from `+table+`
		where `+key+` = $1
		order by created_at desc, id desc
		limit $2
	`, entityID, ownership.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ownership.ActivityEntry
	for rows.Next() {
		var (
			e        ownership.ActivityEntry
			typ      string
			dir, ch  string
			duration sql.NullInt32
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.RecruiterID, &typ, &dir, &ch, &e.Notes, &duration, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Entity = kind
		e.Type = ownership.ActivityType(typ)
		e.Direction = ownership.Direction(dir)
		e.Channel = ownership.Channel(ch)
		e.CreatedAt = e.CreatedAt.UTC()
		if duration.Valid {
			d := int(duration.Int32)
			e.DurationSeconds = &d
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
