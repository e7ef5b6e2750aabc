// Package access answers "is this access allowed" by a read-only traversal
// of the principal's registry entry. Denials are ordinary return values;
// only infrastructure faults surface as errors.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/security"
)

// Query describes one permission check. The zero value of the Skip fields
// keeps both expiry and status checks on, which is the posture every
// external caller wants.
type Query struct {
	PrincipalID  string
	Resource     string
	Action       string
	StateCode    string
	DistrictCode string

	// SkipExpiryCheck disables grant/role expiry filtering.
	SkipExpiryCheck bool
	// SkipStatusCheck disables the principal/registry active check.
	SkipStatusCheck bool
	// SuppressAudit drops the access_attempt record. Reserved for internal
	// probes that are audited by their caller.
	SuppressAudit bool

	// IP and SessionID enrich the audit record when known.
	IP        string
	SessionID string
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed      bool
	Reason       security.ReasonCode
	MatchedRole  registry.RoleName
	MatchedState string
	Grant        *registry.Grant
	SuperAdmin   bool
}

// Evaluator traverses registry entries. It holds no locks and keeps no
// per-call state, so it is safe for unbounded concurrent use.
type Evaluator struct {
	store    registry.Store
	catalog  *catalog.Catalog
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Evaluator) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(store registry.Store, cat *catalog.Catalog, recorder *audit.Recorder, opts ...Option) *Evaluator {
	e := &Evaluator{store: store, catalog: cat, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSuperAdmin reports whether the entry holds any effective top-level role
// in an active state at now. This is the single super-admin predicate; all
// entry points thread its result instead of re-deriving it.
func IsSuperAdmin(e *registry.Entry, now time.Time) bool {
	for i := range e.States {
		st := &e.States[i]
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if r.Level() == registry.TopLevel && r.Effective(now) {
				return true
			}
		}
	}
	return false
}

// Evaluate runs the traversal for q. Every call emits one access_attempt
// audit record unless suppressed.
func (e *Evaluator) Evaluate(ctx context.Context, q Query) (Decision, error) {
	now := e.now().UTC()
	d, err := e.evaluate(ctx, q, now)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s/%s: %w", q.Resource, q.Action, err)
	}
	obs.CountAccessDecision(string(d.Reason))
	if !q.SuppressAudit {
		e.recordAttempt(ctx, q, d, now)
	}
	return d, nil
}

func (e *Evaluator) evaluate(ctx context.Context, q Query, now time.Time) (Decision, error) {
	entry, err := e.store.Entry(ctx, q.PrincipalID)
	if errors.Is(err, registry.ErrNotFound) {
		return Decision{Reason: security.ReasonUserNotFound}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	if !q.SkipStatusCheck {
		p, err := e.store.Principal(ctx, q.PrincipalID)
		if errors.Is(err, registry.ErrNotFound) {
			return Decision{Reason: security.ReasonUserNotFound}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		if !p.Active || entry.Status != registry.EntryActive {
			return Decision{Reason: security.ReasonAccountInactive}, nil
		}
	}

	// Top-level roles are implicitly bound to the entire non-deprecated
	// catalog; no explicit grant is required.
	if IsSuperAdmin(entry, now) {
		if _, ok := e.catalog.ActiveFor(q.Resource, q.Action); ok {
			return Decision{Allowed: true, SuperAdmin: true, MatchedRole: registry.RoleSuperAdmin}, nil
		}
	}

	checkExpiry := !q.SkipExpiryCheck
	for i := range entry.States {
		st := &entry.States[i]
		if q.StateCode != "" && st.Code != q.StateCode {
			continue
		}
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if !r.Active {
				continue
			}
			if checkExpiry && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
				continue
			}
			for k := range r.Grants {
				g := &r.Grants[k]
				if !g.Effective(now, checkExpiry) {
					continue
				}
				if g.Resource != q.Resource || g.Action != q.Action {
					continue
				}
				// First match wins. Traversal follows declared insertion
				// order; do not replace with most-specific matching.
				if q.DistrictCode != "" && !entry.HasActiveDistrict(st.Code, q.DistrictCode) {
					return Decision{Reason: security.ReasonDistrictDenied, MatchedRole: r.Name, MatchedState: st.Code}, nil
				}
				grant := *g
				return Decision{
					Allowed:      true,
					MatchedRole:  r.Name,
					MatchedState: st.Code,
					Grant:        &grant,
				}, nil
			}
		}
	}

	return Decision{Reason: security.ReasonPermissionDenied}, nil
}

func (e *Evaluator) recordAttempt(ctx context.Context, q Query, d Decision, now time.Time) {
	rec := &audit.Record{
		OccurredAt: now,
		Actor: audit.Actor{
			PrincipalID: q.PrincipalID,
			IP:          q.IP,
			SessionID:   q.SessionID,
		},
		Action: audit.ActionAccessAttempt,
		Target: audit.Target{
			Type: "permission",
			ID:   q.Resource + ":" + q.Action,
		},
		Jurisdiction: audit.Jurisdiction{StateCode: q.StateCode, DistrictCode: q.DistrictCode},
		Result:       audit.ResultSuccess,
		Risk:         audit.RiskLow,
		Details: map[string]any{
			"resource": q.Resource,
			"action":   q.Action,
		},
	}
	if !d.Allowed {
		rec.Result = audit.ResultRejected
		rec.Risk = audit.RiskMedium
		rec.Details["reason"] = string(d.Reason)
	}
	if d.MatchedRole != "" {
		rec.Details["matched_role"] = string(d.MatchedRole)
	}
	if d.SuperAdmin {
		rec.Details["super_admin"] = true
	}
	e.recorder.Record(ctx, rec)
}
