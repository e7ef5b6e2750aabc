package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/ids"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/security"
)

// Service handles principal provisioning. Mutations of an existing hierarchy
// go through the workflow package; provisioning is the one place a principal
// and its entry come into existence, atomically and exactly once.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a provisioning service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision creates a principal with an empty registry entry. The two records
// are written in one transaction so the 1:1 invariant can never be observed
// broken.
func (s *Service) Provision(ctx context.Context, email, password string) (*Principal, *Entry, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, fmt.Errorf("valid email is required")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	p := &Principal{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e := &Entry{
		PrincipalID: p.ID,
		Status:      EntryActive,
		States:      []State{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.CreatePrincipal(ctx, p, e)
	}); err != nil {
		return nil, nil, err
	}
	return p, e, nil
}
