package registry

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. A single
// mutex serializes writers, matching the transaction guarantee of the
// Postgres store: readers always observe a complete aggregate.
type Memory struct {
	mu         sync.RWMutex
	principals map[string]Principal
	byEmail    map[string]string
	entries    map[string]Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		principals: make(map[string]Principal),
		byEmail:    make(map[string]string),
		entries:    make(map[string]Entry),
	}
}

func (m *Memory) CreatePrincipal(ctx context.Context, p *Principal, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.ID]; ok {
		return ErrConflict
	}
	email := strings.ToLower(p.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrConflict
	}
	if e.PrincipalID != p.ID {
		e.PrincipalID = p.ID
	}
	m.principals[p.ID] = clonePrincipal(p)
	m.byEmail[email] = p.ID
	m.entries[p.ID] = cloneEntry(e)
	return nil
}

func (m *Memory) Principal(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePrincipal(&p)
	return &cp, nil
}

func (m *Memory) PrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	p := m.principals[id]
	cp := clonePrincipal(&p)
	return &cp, nil
}

func (m *Memory) SavePrincipal(ctx context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	m.principals[p.ID] = clonePrincipal(p)
	return nil
}

func (m *Memory) Entry(ctx context.Context, principalID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	ce := cloneEntry(&e)
	return &ce, nil
}

func (m *Memory) SaveEntry(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.PrincipalID]; !ok {
		return ErrNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	m.entries[e.PrincipalID] = cloneEntry(e)
	return nil
}

// WithinTx serializes fn under the store lock indirectly: the memory store
// applies each Save atomically already, so fn simply runs against the same
// store. Good enough for tests; the Postgres store provides real isolation.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

// --- deep copies ---
// The store hands out copies so callers can never mutate shared state
// outside SaveEntry/SavePrincipal.

func clonePrincipal(p *Principal) Principal {
	cp := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	return cp
}

func cloneEntry(e *Entry) Entry {
	ce := *e
	if e.LastAccessAt != nil {
		t := *e.LastAccessAt
		ce.LastAccessAt = &t
	}
	ce.States = make([]State, len(e.States))
	for i := range e.States {
		ce.States[i] = cloneState(&e.States[i])
	}
	ce.Sessions = append([]Session(nil), e.Sessions...)
	ce.TrustedDevices = append([]string(nil), e.TrustedDevices...)
	ce.CommonCountries = append([]string(nil), e.CommonCountries...)
	return ce
}

func cloneState(s *State) State {
	cs := *s
	cs.Districts = append([]District(nil), s.Districts...)
	cs.Roles = make([]Role, len(s.Roles))
	for i := range s.Roles {
		cs.Roles[i] = cloneRole(&s.Roles[i])
	}
	return cs
}

func cloneRole(r *Role) Role {
	cr := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cr.ExpiresAt = &t
	}
	cr.Grants = make([]Grant, len(r.Grants))
	for i := range r.Grants {
		cr.Grants[i] = cloneGrant(&r.Grants[i])
	}
	cr.Security = r.Security
	cr.Security.AllowedIPs = append([]string(nil), r.Security.AllowedIPs...)
	return cr
}

func cloneGrant(g *Grant) Grant {
	cg := *g
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		cg.ExpiresAt = &t
	}
	if g.Conditions != nil {
		cg.Conditions = make(map[string]any, len(g.Conditions))
		for k, v := range g.Conditions {
			cg.Conditions[k] = v
		}
	}
	return cg
}
