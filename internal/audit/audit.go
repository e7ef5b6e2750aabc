// Package audit records every security-relevant action. Writes are
// best-effort: a failed durable write falls back to the local diagnostic
// sink and never blocks or reverts the operation that produced the record.
package audit

import (
	"context"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/ids"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
)

// ActionType identifies a security-relevant event. The taxonomy is closed;
// unknown types are recorded but flagged so upstream alerting notices them.
type ActionType string

const (
	ActionRoleAssignment     ActionType = "role_assignment"
	ActionRoleModification   ActionType = "role_modification"
	ActionRoleRevocation     ActionType = "role_revocation"
	ActionPermissionGrant    ActionType = "permission_grant"
	ActionPermissionRevoke   ActionType = "permission_revoke"
	ActionPermissionUpdate   ActionType = "permission_update"
	ActionAccessAttempt      ActionType = "access_attempt"
	ActionLogin              ActionType = "login"
	ActionLogout             ActionType = "logout"
	ActionSessionCreated     ActionType = "session_created"
	ActionSessionRevoked     ActionType = "session_revoked"
	ActionHierarchyViolation ActionType = "hierarchy_violation"
	ActionIPBlocked          ActionType = "ip_blocked"
	ActionSecurityAlert      ActionType = "security_alert"
)

// Result is the outcome of the recorded action.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailure  Result = "failure"
	ResultPartial  Result = "partial"
	ResultPending  Result = "pending"
	ResultRejected Result = "rejected"
	ResultTimeout  Result = "timeout"
)

// RiskLevel grades how concerning the recorded action is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Actor is the principal performing the action.
type Actor struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Level       int    `json:"level,omitempty"`
	IP          string `json:"ip,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Target is what the action touched, with snapshots of the mutated subtree.
type Target struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Type        string `json:"type,omitempty"`
	ID          string `json:"id,omitempty"`
	Level       int    `json:"level,omitempty"`
	Before      any    `json:"before,omitempty"`
	After       any    `json:"after,omitempty"`
}

// Jurisdiction scopes the action to a state and optional district.
type Jurisdiction struct {
	StateCode    string `json:"state_code,omitempty"`
	DistrictCode string `json:"district_code,omitempty"`
}

// Record is one immutable audit entry.
type Record struct {
	ID              string         `json:"id"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Actor           Actor          `json:"actor"`
	Action          ActionType     `json:"action"`
	Target          Target         `json:"target"`
	Jurisdiction    Jurisdiction   `json:"jurisdiction"`
	Stage           string         `json:"stage,omitempty"`
	Risk            RiskLevel      `json:"risk"`
	Result          Result         `json:"result"`
	LevelDifference *int           `json:"level_difference,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Sink persists audit records durably.
type Sink interface {
	Append(ctx context.Context, rec *Record) error
}

// NopSink discards records. Use when no durable backend is configured; the
// recorder still mirrors everything to the diagnostic log.
type NopSink struct{}

func (NopSink) Append(ctx context.Context, rec *Record) error { return nil }

// Notifier receives high and critical risk records. Implementations are
// external (pager, mail relay); calls are fire-and-forget.
type Notifier interface {
	Notify(rec *Record)
}

// Recorder is the append-only audit pipeline.
type Recorder struct {
	sink     Sink
	notifier Notifier
	now      func() time.Time
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithNotifier attaches the security notification hook.
func WithNotifier(n Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record finalizes and persists rec. It never returns an error and never
// panics outward: audit must not take down or roll back the operation that
// emitted it.
func (r *Recorder) Record(ctx context.Context, rec *Record) {
	if rec == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now().UTC()
	}
	if rec.Result == "" {
		rec.Result = ResultSuccess
	}
	if rec.Risk == "" {
		rec.Risk = RiskLow
	}

	// For role assignments, derive the level gap between assigner and target.
	// A negative gap means a lower level assigned upward; the workflow should
	// have rejected it, so anything arriving here is treated as critical.
	if rec.Action == ActionRoleAssignment && rec.Actor.Level > 0 && rec.Target.Level > 0 {
		diff := rec.Actor.Level - rec.Target.Level
		rec.LevelDifference = &diff
		if diff < 0 {
			rec.Risk = RiskCritical
		}
	}

	if err := r.sink.Append(ctx, rec); err != nil {
		obs.CountAuditFallback()
		obs.LogEvent("audit.fallback", map[string]any{
			"audit_id": rec.ID,
			"action":   string(rec.Action),
			"result":   string(rec.Result),
			"risk":     string(rec.Risk),
			"error":    err.Error(),
			"actor":    rec.Actor.PrincipalID,
			"target":   rec.Target.PrincipalID,
		})
	}

	if r.notifier != nil && (rec.Risk == RiskHigh || rec.Risk == RiskCritical) {
		go r.notifier.Notify(rec)
	}
}
