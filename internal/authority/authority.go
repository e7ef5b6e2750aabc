// Package authority decides whether one principal may grant or revoke roles
// and permissions held by another. Level checks use the fixed step-down
// table; jurisdiction checks bind lower levels to their own states and
// districts.
package authority

import (
	"fmt"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
)

// stepDown maps an assigner's level to the maximum level they may assign.
// Only the top level may mint peers; every other level steps down at least
// one tier, with level 6 capped at 5 to keep the national tier closed.
var stepDown = map[int]int{
	7: 7,
	6: 5,
	5: 4,
	4: 3,
	3: 2,
}

// StepDown returns the maximum assignable level for an assigner level.
// Levels at or below 2 may only assign level 1.
func StepDown(assignerLevel int) int {
	if max, ok := stepDown[assignerLevel]; ok {
		return max
	}
	return 1
}

// GrantDecision is the result of a grant-authority check.
type GrantDecision struct {
	Valid       bool
	TargetLevel int
	Message     string
}

// ValidateGrantAuthority reports whether an assigner holding assignerMaxLevel
// may assign targetRole, optionally scoped to a state and district. The
// assigner registry entry supplies jurisdiction membership; it is only
// consulted when the level rules demand it (levels below 6 are bound to
// their own states, levels below 5 additionally to their own districts).
func ValidateGrantAuthority(assignerMaxLevel int, targetRole registry.RoleName, stateCode, districtCode string, assigner *registry.Entry) GrantDecision {
	targetLevel, ok := registry.LevelOf(targetRole)
	if !ok {
		return GrantDecision{Message: fmt.Sprintf("unknown role %q", targetRole)}
	}

	maxAssignable := StepDown(assignerMaxLevel)
	if targetLevel > maxAssignable {
		return GrantDecision{
			TargetLevel: targetLevel,
			Message: fmt.Sprintf("level %d may assign up to level %d, requested level %d",
				assignerMaxLevel, maxAssignable, targetLevel),
		}
	}

	// Level 6 and above operate nationwide; below that the assigner must hold
	// the jurisdiction they are assigning into.
	if stateCode != "" && assignerMaxLevel < 6 {
		if assigner == nil || !assigner.HasActiveState(stateCode) {
			return GrantDecision{
				TargetLevel: targetLevel,
				Message:     fmt.Sprintf("assigner holds no active jurisdiction in state %s", stateCode),
			}
		}
		if districtCode != "" && assignerMaxLevel < 5 {
			if !assigner.HasActiveDistrict(stateCode, districtCode) {
				return GrantDecision{
					TargetLevel: targetLevel,
					Message:     fmt.Sprintf("assigner holds no active jurisdiction in district %s/%s", stateCode, districtCode),
				}
			}
		}
	}

	return GrantDecision{Valid: true, TargetLevel: targetLevel}
}

// ValidateRevokeAuthority reports whether a remover holding removerMaxLevel
// may revoke a role of targetRoleLevel. Revocation requires standing at or
// above the target level.
func ValidateRevokeAuthority(removerMaxLevel, targetRoleLevel int) bool {
	return removerMaxLevel >= targetRoleLevel
}
