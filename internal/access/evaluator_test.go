package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/security"
)

var testTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type captureSink struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (s *captureSink) Append(ctx context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *captureSink) records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Definition{
		{Key: "mining.analysis.read", Module: "analysis", Resource: "mining_analysis", Action: "read", Category: "geospatial", Scope: "state", Severity: "low", Active: true},
		{Key: "lease.records.write", Module: "leases", Resource: "lease_records", Action: "write", Category: "registry", Scope: "district", Severity: "high", Active: true},
		{Key: "legacy.export.csv", Module: "analysis", Resource: "legacy_exports", Action: "read", Category: "geospatial", Scope: "state", Severity: "low", Active: false, Deprecated: true},
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func seed(t *testing.T, store *registry.Memory, entry *registry.Entry, active bool) {
	t.Helper()
	p := &registry.Principal{
		ID:     entry.PrincipalID,
		Email:  entry.PrincipalID + "@mines.gov.in",
		Active: active,
	}
	if err := store.CreatePrincipal(context.Background(), p, entry); err != nil {
		t.Fatalf("seed principal: %v", err)
	}
}

func newEvaluator(t *testing.T, store *registry.Memory, sink audit.Sink) *Evaluator {
	t.Helper()
	if sink == nil {
		sink = audit.NopSink{}
	}
	rec := audit.NewRecorder(sink, audit.WithClock(func() time.Time { return testTime }))
	return NewEvaluator(store, testCatalog(t), rec, WithClock(func() time.Time { return testTime }))
}

func analysisGrant() registry.Grant {
	return registry.Grant{
		ID:            "grant-1",
		PermissionKey: "mining.analysis.read",
		Resource:      "mining_analysis",
		Action:        "read",
		Scope:         "state",
		Status:        registry.GrantActive,
		GrantedAt:     testTime.Add(-24 * time.Hour),
	}
}

func officerEntry(principalID string) *registry.Entry {
	return &registry.Entry{
		PrincipalID: principalID,
		Status:      registry.EntryActive,
		States: []registry.State{
			{
				Code:   "WB",
				Active: true,
				Districts: []registry.District{
					{Code: "PUR", Active: true},
					{Code: "BAN", Active: false},
				},
				Roles: []registry.Role{
					{
						Name:       registry.RoleMiningOfficer,
						Active:     true,
						AssignedAt: testTime.Add(-48 * time.Hour),
						Grants:     []registry.Grant{analysisGrant()},
					},
				},
			},
		},
	}
}

func TestEvaluateAllowedInState(t *testing.T) {
	store := registry.NewMemory()
	seed(t, store, officerEntry("p1"), true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1",
		Resource:    "mining_analysis",
		Action:      "read",
		StateCode:   "WB",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed, got reason %s", d.Reason)
	}
	if d.MatchedState != "WB" || d.MatchedRole != registry.RoleMiningOfficer {
		t.Fatalf("unexpected match: state=%s role=%s", d.MatchedState, d.MatchedRole)
	}
	if d.Grant == nil || d.Grant.PermissionKey != "mining.analysis.read" {
		t.Fatalf("expected matched grant, got %+v", d.Grant)
	}
}

func TestEvaluateDeniedOutsideState(t *testing.T) {
	store := registry.NewMemory()
	seed(t, store, officerEntry("p1"), true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1",
		Resource:    "mining_analysis",
		Action:      "read",
		StateCode:   "MH",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("authority in WB must not apply to MH")
	}
	if d.Reason != security.ReasonPermissionDenied {
		t.Fatalf("reason = %s, want %s", d.Reason, security.ReasonPermissionDenied)
	}
}

func TestEvaluateUnknownPrincipal(t *testing.T) {
	store := registry.NewMemory()
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "ghost", Resource: "mining_analysis", Action: "read"})
	if err != nil {
		t.Fatalf("a missing principal is a denial, not an error: %v", err)
	}
	if d.Allowed || d.Reason != security.ReasonUserNotFound {
		t.Fatalf("got %+v, want USER_NOT_FOUND denial", d)
	}
}

func TestEvaluateInactiveAccount(t *testing.T) {
	store := registry.NewMemory()
	seed(t, store, officerEntry("p1"), false)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed || d.Reason != security.ReasonAccountInactive {
		t.Fatalf("got %+v, want ACCOUNT_INACTIVE denial", d)
	}

	// Status checks can be bypassed for administrative probes.
	d, err = ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB",
		SkipStatusCheck: true,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("status bypass should allow, got %s", d.Reason)
	}
}

func TestEvaluateGrantExpiry(t *testing.T) {
	entry := officerEntry("p1")
	past := testTime.Add(-time.Minute)
	entry.States[0].Roles[0].Grants[0].ExpiresAt = &past

	store := registry.NewMemory()
	seed(t, store, entry, true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expired grant must not match")
	}

	d, err = ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB",
		SkipExpiryCheck: true,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expiry bypass should allow, got %s", d.Reason)
	}
}

func TestEvaluateExpiryBypassNeverRevivesStatus(t *testing.T) {
	entry := officerEntry("p1")
	entry.States[0].Roles[0].Grants[0].Status = registry.GrantPaused

	store := registry.NewMemory()
	seed(t, store, entry, true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB",
		SkipExpiryCheck: true,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("SkipExpiryCheck must not bypass the grant status check")
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	second := analysisGrant()
	second.ID = "grant-2"
	second.Scope = "district"

	entry := officerEntry("p1")
	entry.States[0].Roles = append(entry.States[0].Roles, registry.Role{
		Name:       registry.RoleFieldAnalyst,
		Active:     true,
		AssignedAt: testTime.Add(-24 * time.Hour),
		Grants:     []registry.Grant{second},
	})

	store := registry.NewMemory()
	seed(t, store, entry, true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed || d.MatchedRole != registry.RoleMiningOfficer || d.Grant.ID != "grant-1" {
		t.Fatalf("traversal must return the first declared match, got role=%s grant=%+v", d.MatchedRole, d.Grant)
	}
}

func TestEvaluateDistrictDenied(t *testing.T) {
	store := registry.NewMemory()
	seed(t, store, officerEntry("p1"), true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read",
		StateCode: "WB", DistrictCode: "BAN",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed || d.Reason != security.ReasonDistrictDenied {
		t.Fatalf("got %+v, want DISTRICT_ACCESS_DENIED", d)
	}

	d, err = ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read",
		StateCode: "WB", DistrictCode: "PUR",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("active district should pass, got %s", d.Reason)
	}
}

func TestEvaluateSuperAdmin(t *testing.T) {
	entry := &registry.Entry{
		PrincipalID: "root",
		Status:      registry.EntryActive,
		States: []registry.State{
			{
				Code:   "DL",
				Active: true,
				Roles: []registry.Role{
					{Name: registry.RoleSuperAdmin, Active: true, AssignedAt: testTime.Add(-time.Hour)},
				},
			},
		},
	}
	store := registry.NewMemory()
	seed(t, store, entry, true)
	ev := newEvaluator(t, store, nil)

	// No explicit grant, any active catalog target.
	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "root", Resource: "lease_records", Action: "write", StateCode: "WB"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed || !d.SuperAdmin {
		t.Fatalf("super admin must cover the active catalog, got %+v", d)
	}

	// Deprecated catalog entries are outside the implicit binding.
	d, err = ev.Evaluate(context.Background(), Query{PrincipalID: "root", Resource: "legacy_exports", Action: "read"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("deprecated permission must not be implicitly granted")
	}
}

func TestEvaluateExpiredSuperAdminLosesShortcut(t *testing.T) {
	past := testTime.Add(-time.Minute)
	entry := &registry.Entry{
		PrincipalID: "root",
		Status:      registry.EntryActive,
		States: []registry.State{
			{
				Code:   "DL",
				Active: true,
				Roles: []registry.Role{
					{Name: registry.RoleSuperAdmin, Active: true, AssignedAt: testTime.Add(-time.Hour), ExpiresAt: &past},
				},
			},
		},
	}
	store := registry.NewMemory()
	seed(t, store, entry, true)
	ev := newEvaluator(t, store, nil)

	d, err := ev.Evaluate(context.Background(), Query{PrincipalID: "root", Resource: "lease_records", Action: "write"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expired super-admin role must not keep the catalog binding")
	}
}

func TestEvaluateEmitsAuditRecord(t *testing.T) {
	store := registry.NewMemory()
	seed(t, store, officerEntry("p1"), true)
	sink := &captureSink{}
	ev := newEvaluator(t, store, sink)

	if _, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "MH", IP: "10.1.2.3",
	}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("want 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Action != audit.ActionAccessAttempt || rec.Result != audit.ResultRejected {
		t.Fatalf("unexpected record: action=%s result=%s", rec.Action, rec.Result)
	}
	if rec.Details["reason"] != string(security.ReasonPermissionDenied) {
		t.Fatalf("denial reason missing from record details: %v", rec.Details)
	}
	if rec.Actor.IP != "10.1.2.3" {
		t.Fatalf("actor IP not threaded into the record: %+v", rec.Actor)
	}

	// Suppressed probes leave no trace.
	if _, err := ev.Evaluate(context.Background(), Query{
		PrincipalID: "p1", Resource: "mining_analysis", Action: "read", StateCode: "WB",
		SuppressAudit: true,
	}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := len(sink.records()); got != 1 {
		t.Fatalf("suppressed evaluation still wrote a record (total %d)", got)
	}
}

func TestIsSuperAdminIgnoresInactiveState(t *testing.T) {
	entry := &registry.Entry{
		PrincipalID: "root",
		Status:      registry.EntryActive,
		States: []registry.State{
			{
				Code:   "DL",
				Active: false,
				Roles: []registry.Role{
					{Name: registry.RoleSuperAdmin, Active: true, AssignedAt: testTime},
				},
			},
		},
	}
	if IsSuperAdmin(entry, testTime) {
		t.Fatal("a top-level role under an inactive state carries no authority")
	}
}
