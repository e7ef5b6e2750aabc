package authority

import (
	"testing"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
)

func TestStepDownTable(t *testing.T) {
	cases := map[int]int{
		7: 7,
		6: 5,
		5: 4,
		4: 3,
		3: 2,
		2: 1,
		1: 1,
	}
	for level, want := range cases {
		if got := StepDown(level); got != want {
			t.Fatalf("StepDown(%d) = %d, want %d", level, got, want)
		}
	}
}

// StepDown is authoritative: no assigner level may ever approve a target
// level above its step-down cap.
func TestGrantAuthorityNeverExceedsStepDown(t *testing.T) {
	for assigner := 1; assigner <= 7; assigner++ {
		cap := StepDown(assigner)
		for _, role := range registry.KnownRoles() {
			target, _ := registry.LevelOf(role)
			d := ValidateGrantAuthority(assigner, role, "", "", nil)
			if d.Valid && target > cap {
				t.Fatalf("assigner level %d approved role %s (level %d) above cap %d", assigner, role, target, cap)
			}
			if !d.Valid && target <= cap {
				t.Fatalf("assigner level %d rejected role %s (level %d) within cap %d: %s", assigner, role, target, cap, d.Message)
			}
		}
	}
}

func TestGrantAuthorityUnknownRole(t *testing.T) {
	d := ValidateGrantAuthority(7, registry.RoleName("warlord"), "", "", nil)
	if d.Valid {
		t.Fatal("unknown role must never be assignable")
	}
}

func assignerEntry(active bool) *registry.Entry {
	return &registry.Entry{
		PrincipalID: "assigner",
		Status:      registry.EntryActive,
		States: []registry.State{
			{
				Code:   "WB",
				Active: active,
				Districts: []registry.District{
					{Code: "PUR", Active: true},
					{Code: "BAN", Active: false},
				},
				Roles: []registry.Role{
					{Name: registry.RoleDistrictAdmin, Active: true, AssignedAt: time.Now()},
				},
			},
		},
	}
}

func TestGrantAuthorityJurisdiction(t *testing.T) {
	entry := assignerEntry(true)

	// Level 4 assigning into its own state and district.
	d := ValidateGrantAuthority(4, registry.RoleMiningOfficer, "WB", "PUR", entry)
	if !d.Valid {
		t.Fatalf("expected valid, got %s", d.Message)
	}

	// Same state, inactive district.
	d = ValidateGrantAuthority(4, registry.RoleMiningOfficer, "WB", "BAN", entry)
	if d.Valid {
		t.Fatal("inactive district must fail the jurisdiction check")
	}

	// Foreign state.
	d = ValidateGrantAuthority(4, registry.RoleMiningOfficer, "MH", "", entry)
	if d.Valid {
		t.Fatal("assigner without the state must fail the jurisdiction check")
	}

	// Inactive state entry.
	d = ValidateGrantAuthority(4, registry.RoleMiningOfficer, "WB", "", assignerEntry(false))
	if d.Valid {
		t.Fatal("inactive state must fail the jurisdiction check")
	}
}

func TestGrantAuthorityLevelSixSkipsJurisdiction(t *testing.T) {
	// Level 6 operates nationwide; no state membership required.
	d := ValidateGrantAuthority(6, registry.RoleStateAdmin, "MH", "NGP", nil)
	if !d.Valid {
		t.Fatalf("level 6 must be jurisdiction-unrestricted, got %s", d.Message)
	}
}

func TestGrantAuthorityLevelFiveSkipsDistrictCheck(t *testing.T) {
	entry := assignerEntry(true)
	// Level 5 is bound to its states but not to districts.
	d := ValidateGrantAuthority(5, registry.RoleMiningOfficer, "WB", "BAN", entry)
	if !d.Valid {
		t.Fatalf("level 5 must skip the district check, got %s", d.Message)
	}
}

func TestRevokeAuthority(t *testing.T) {
	if !ValidateRevokeAuthority(5, 5) {
		t.Fatal("equal level must be allowed to revoke")
	}
	if !ValidateRevokeAuthority(6, 2) {
		t.Fatal("higher level must be allowed to revoke")
	}
	if ValidateRevokeAuthority(4, 5) {
		t.Fatal("lower level must not revoke upward")
	}
}
