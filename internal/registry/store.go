package registry

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports absence of a principal or entry.
	ErrNotFound = errors.New("registry: not found")
	// ErrConflict reports a uniqueness violation (duplicate id or email).
	ErrConflict = errors.New("registry: already exists")
)

// Store describes persistence for principals and their registry entries. The
// entry is a single aggregate: SaveEntry replaces the whole document so a
// concurrent reader observes either the pre- or post-mutation hierarchy,
// never a partially updated one.
type Store interface {
	// CreatePrincipal persists a principal together with its registry entry
	// in one atomic step. Every principal has exactly one entry.
	CreatePrincipal(ctx context.Context, p *Principal, e *Entry) error

	Principal(ctx context.Context, id string) (*Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	SavePrincipal(ctx context.Context, p *Principal) error

	Entry(ctx context.Context, principalID string) (*Entry, error)
	SaveEntry(ctx context.Context, e *Entry) error

	// WithinTx runs fn against a transaction-scoped store. If the receiver is
	// already transactional, fn joins the open transaction and the outer owner
	// commits. Any error from fn aborts the transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
