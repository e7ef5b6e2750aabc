package bruteforce

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu     sync.Mutex
	events []Event
	blocks map[string]*BlockedIP
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{blocks: make(map[string]*BlockedIP)}
}

func (m *Memory) AppendEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) CountEvents(ctx context.Context, ip string, typ EventType, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.IP == ip && ev.Type == typ && !ev.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountAllEvents(ctx context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.IP == ip && !ev.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteEvents(ctx context.Context, ip, email string, typ EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.IP == ip && ev.Email == email && ev.Type == typ {
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return nil
}

func (m *Memory) UpsertBlock(ctx context.Context, ip, reason string, until time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blocks[ip]; ok {
		b.Attempts++
		b.ExpiresAt = until
		b.Reason = reason
		return b.Attempts, nil
	}
	m.blocks[ip] = &BlockedIP{
		IP:        ip,
		Reason:    reason,
		Attempts:  1,
		BlockedAt: time.Now().UTC(),
		ExpiresAt: until,
	}
	return 1, nil
}

func (m *Memory) Block(ctx context.Context, ip string) (*BlockedIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[ip]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) Prune(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.OccurredAt.Before(before) {
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	for ip, b := range m.blocks {
		if b.ExpiresAt.Before(before) {
			delete(m.blocks, ip)
		}
	}
	return nil
}
