package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/bruteforce"
)

// GuardStore persists the brute-force ledger and IP blocks.
type GuardStore struct {
	store *Store
}

var _ bruteforce.Store = (*GuardStore)(nil)

// NewGuardStore wraps the store as a brute-force ledger.
func NewGuardStore(store *Store) *GuardStore {
	return &GuardStore{store: store}
}

func (g *GuardStore) AppendEvent(ctx context.Context, ev bruteforce.Event) error {
	var details []byte
	if len(ev.Details) > 0 {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
	}
	_, err := g.store.q.ExecContext(ctx, `
		insert into security_events (id, ip, email, type, details, occurred_at)
		values ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.IP, ev.Email, string(ev.Type), details, ev.OccurredAt)
	return err
}

func (g *GuardStore) CountEvents(ctx context.Context, ip string, typ bruteforce.EventType, since time.Time) (int, error) {
	var n int
	err := g.store.q.QueryRowContext(ctx, `
		select count(*) from security_events
		where ip = $1 and type = $2 and occurred_at >= $3
	`, ip, string(typ), since).Scan(&n)
	return n, err
}

func (g *GuardStore) CountAllEvents(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := g.store.q.QueryRowContext(ctx, `
		select count(*) from security_events
		where ip = $1 and occurred_at >= $2
	`, ip, since).Scan(&n)
	return n, err
}

func (g *GuardStore) DeleteEvents(ctx context.Context, ip, email string, typ bruteforce.EventType) error {
	_, err := g.store.q.ExecContext(ctx, `
		delete from security_events where ip = $1 and email = $2 and type = $3
	`, ip, email, string(typ))
	return err
}

func (g *GuardStore) UpsertBlock(ctx context.Context, ip, reason string, until time.Time) (int, error) {
	var attempts int
	err := g.store.q.QueryRowContext(ctx, `
		insert into blocked_ips (ip, reason, attempts, blocked_at, expires_at)
		values ($1, $2, 1, now(), $3)
		on conflict (ip) do update
		set attempts = blocked_ips.attempts + 1, reason = excluded.reason, expires_at = excluded.expires_at
		returning attempts
	`, ip, reason, until).Scan(&attempts)
	return attempts, err
}

func (g *GuardStore) Block(ctx context.Context, ip string) (*bruteforce.BlockedIP, error) {
	var b bruteforce.BlockedIP
	err := g.store.q.QueryRowContext(ctx, `
		select ip, reason, attempts, blocked_at, expires_at from blocked_ips where ip = $1
	`, ip).Scan(&b.IP, &b.Reason, &b.Attempts, &b.BlockedAt, &b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (g *GuardStore) Prune(ctx context.Context, before time.Time) error {
	if _, err := g.store.q.ExecContext(ctx, `delete from security_events where occurred_at < $1`, before); err != nil {
		return err
	}
	_, err := g.store.q.ExecContext(ctx, `delete from blocked_ips where expires_at < $1`, before)
	return err
}
