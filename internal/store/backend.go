// Package store picks the record store behind the engines: Postgres when a
// DSN is configured, process memory otherwise.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
	"github.com/searchmarket/search-market-ats/internal/store/pg"
)

// Backend bundles the store interfaces the engines and sweeps consume.
type Backend struct {
	Candidates ownership.CandidateStore
	Clients    ownership.ClientStore
	Grants     ownership.GrantStore
	Activity   ownership.ActivityStore
	References references.Store

	// DB is nil for the in-memory backend.
	DB *sql.DB

	close func() error
}

// Open connects to Postgres and pings it. An empty dsn yields a Memory
// backend.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	if dsn == "" {
		return Memory(), nil
	}
	s, err := pg.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Backend{
		Candidates: s,
		Clients:    s,
		Grants:     s,
		Activity:   s,
		References: s,
		DB:         s.DB(),
		close:      s.Close,
	}, nil
}

// Memory returns a Backend that lives only as long as the process.
func Memory() *Backend {
	m := ownership.NewMemoryStore()
	refs := references.NewMemoryStore()
	return &Backend{
		Candidates: cascadingCandidates{MemoryStore: m, refs: refs},
		Clients:    m,
		Grants:     m,
		Activity:   m,
		References: refs,
	}
}

// cascadingCandidates removes a deleted candidate's reference requests, as
// the foreign key does in Postgres.
type cascadingCandidates struct {
	*ownership.MemoryStore
	refs *references.MemoryStore
}

func (c cascadingCandidates) DeleteCandidate(ctx context.Context, id string) error {
	if err := c.MemoryStore.DeleteCandidate(ctx, id); err != nil {
		return err
	}
	c.refs.DeleteByCandidate(ctx, id)
	return nil
}

// Persistent reports whether records survive a restart.
func (b *Backend) Persistent() bool { return b.DB != nil }

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}
