// Package bruteforce keeps the ledger of failed security events per IP and
// email, and escalates repeat offenders to temporary IP blocks.
package bruteforce

import (
	"context"
	"fmt"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/ids"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
)

// EventType classifies a failed security event.
type EventType string

const (
	EventLoginFailed    EventType = "login_failed"
	EventInvalidSession EventType = "invalid_session"
	EventMFAFailed      EventType = "mfa_failed"
)

// Retention bounds the ledger; events older than this are swept.
const Retention = 24 * time.Hour

// BlockCooldown is how long a blocked IP stays blocked.
const BlockCooldown = 24 * time.Hour

type window struct {
	span      time.Duration
	threshold int
}

// Sliding windows per event type. Reaching the threshold within the span
// blocks the IP for the cooldown.
var windows = map[EventType]window{
	EventLoginFailed:    {span: 15 * time.Minute, threshold: 5},
	EventInvalidSession: {span: 60 * time.Minute, threshold: 10},
	EventMFAFailed:      {span: 15 * time.Minute, threshold: 5},
}

// Event is one ledger entry.
type Event struct {
	ID         string         `json:"id"`
	IP         string         `json:"ip"`
	Email      string         `json:"email,omitempty"`
	Type       EventType      `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// BlockedIP is an active or expired block record.
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists the event ledger and block records.
type Store interface {
	AppendEvent(ctx context.Context, ev Event) error
	// CountEvents counts events of one type for an IP since the given time.
	CountEvents(ctx context.Context, ip string, typ EventType, since time.Time) (int, error)
	// CountAllEvents counts events of every type for an IP since the given time.
	CountAllEvents(ctx context.Context, ip string, since time.Time) (int, error)
	// DeleteEvents removes login_failed history for the (ip, email) pair.
	DeleteEvents(ctx context.Context, ip, email string, typ EventType) error
	// UpsertBlock blocks an IP until the given time. Repeated blocks bump the
	// attempt counter on the existing row instead of duplicating it.
	UpsertBlock(ctx context.Context, ip, reason string, until time.Time) (attempts int, err error)
	Block(ctx context.Context, ip string) (*BlockedIP, error)
	// Prune removes events older than before and blocks expired before it.
	Prune(ctx context.Context, before time.Time) error
}

// Guard is the brute-force defense entry point.
type Guard struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures the Guard.
type Option func(*Guard)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard constructs a Guard.
func NewGuard(store Store, recorder *audit.Recorder, opts ...Option) *Guard {
	g := &Guard{store: store, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordEvent appends a failed security event and escalates the IP to a
// block when its sliding-window count reaches the threshold.
func (g *Guard) RecordEvent(ctx context.Context, ip, email string, typ EventType, details map[string]any) error {
	w, ok := windows[typ]
	if !ok {
		return fmt.Errorf("bruteforce: unknown event type %q", typ)
	}
	now := g.now().UTC()
	ev := Event{
		ID:         ids.New(),
		IP:         ip,
		Email:      email,
		Type:       typ,
		Details:    details,
		OccurredAt: now,
	}
	if err := g.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	obs.CountSecurityEvent(string(typ))

	count, err := g.store.CountEvents(ctx, ip, typ, now.Add(-w.span))
	if err != nil {
		return fmt.Errorf("count security events: %w", err)
	}
	if count < w.threshold {
		return nil
	}

	attempts, err := g.store.UpsertBlock(ctx, ip, string(typ), now.Add(BlockCooldown))
	if err != nil {
		return fmt.Errorf("block ip: %w", err)
	}
	obs.CountIPBlock()
	if g.recorder != nil {
		g.recorder.Record(ctx, &audit.Record{
			Actor:  audit.Actor{IP: ip},
			Action: audit.ActionIPBlocked,
			Target: audit.Target{Type: "ip", ID: ip},
			Result: audit.ResultSuccess,
			Risk:   audit.RiskHigh,
			Details: map[string]any{
				"trigger":  string(typ),
				"count":    count,
				"attempts": attempts,
				"email":    email,
			},
		})
	}
	return nil
}

// IsBlocked reports whether ip is under an active block. Consult this before
// credential checks and before session validation.
func (g *Guard) IsBlocked(ctx context.Context, ip string) (bool, error) {
	b, err := g.store.Block(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("load ip block: %w", err)
	}
	if b == nil {
		return false, nil
	}
	return g.now().UTC().Before(b.ExpiresAt), nil
}

// ClearOnSuccess purges login_failed history for the (ip, email) pair after
// a successful login. An already-active block stays in force: blocking and
// attempt history are independent state machines.
func (g *Guard) ClearOnSuccess(ctx context.Context, ip, email string) error {
	if err := g.store.DeleteEvents(ctx, ip, email, EventLoginFailed); err != nil {
		return fmt.Errorf("clear login history: %w", err)
	}
	return nil
}

// RecentEventCount counts ledger events of any type for ip within the last
// span. The session risk score feeds on this.
func (g *Guard) RecentEventCount(ctx context.Context, ip string, span time.Duration) (int, error) {
	return g.store.CountAllEvents(ctx, ip, g.now().UTC().Add(-span))
}

// Sweep drops ledger entries past retention and expired blocks.
func (g *Guard) Sweep(ctx context.Context) error {
	return g.store.Prune(ctx, g.now().UTC().Add(-Retention))
}
