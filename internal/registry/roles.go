package registry

// RoleName identifies a position in the fixed national hierarchy. The set is
// closed: unknown names carry no level and can never be assigned.
type RoleName string

const (
	RoleSuperAdmin    RoleName = "super_admin"
	RoleMinistryAdmin RoleName = "ministry_admin"
	RoleStateAdmin    RoleName = "state_admin"
	RoleDistrictAdmin RoleName = "district_admin"
	RoleMiningOfficer RoleName = "mining_officer"
	RoleFieldAnalyst  RoleName = "field_analyst"
	RoleViewer        RoleName = "viewer"
)

// TopLevel is the hierarchy level of the super-admin tier.
const TopLevel = 7

type roleInfo struct {
	level    int
	category string
}

var roleTable = map[RoleName]roleInfo{
	RoleSuperAdmin:    {level: 7, category: "national"},
	RoleMinistryAdmin: {level: 6, category: "national"},
	RoleStateAdmin:    {level: 5, category: "state"},
	RoleDistrictAdmin: {level: 4, category: "district"},
	RoleMiningOfficer: {level: 3, category: "operations"},
	RoleFieldAnalyst:  {level: 2, category: "operations"},
	RoleViewer:        {level: 1, category: "public"},
}

// LevelOf returns the fixed level for a role name.
func LevelOf(name RoleName) (int, bool) {
	info, ok := roleTable[name]
	return info.level, ok
}

// CategoryOf returns the fixed category for a role name.
func CategoryOf(name RoleName) (string, bool) {
	info, ok := roleTable[name]
	return info.category, ok
}

// KnownRoles returns every defined role name, highest level first.
func KnownRoles() []RoleName {
	return []RoleName{
		RoleSuperAdmin,
		RoleMinistryAdmin,
		RoleStateAdmin,
		RoleDistrictAdmin,
		RoleMiningOfficer,
		RoleFieldAnalyst,
		RoleViewer,
	}
}
