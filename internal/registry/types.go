package registry

import "time"

// Principal is an authenticated identity. Authorization state lives in the
// principal's registry Entry, credential state lives here.
type Principal struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	FailedLogins int        `json:"failed_logins"`
	MFASecret    string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Locked reports whether the principal is under a temporary lock at now.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// GrantStatus is the lifecycle state of a grant.
type GrantStatus string

const (
	GrantActive      GrantStatus = "active"
	GrantInactive    GrantStatus = "inactive"
	GrantPaused      GrantStatus = "paused"
	GrantRevoked     GrantStatus = "revoked"
	GrantPending     GrantStatus = "pending"
	GrantExpired     GrantStatus = "expired"
	GrantUnderReview GrantStatus = "under_review"
)

// Grant instantiates a catalog permission inside a role. Resource and action
// are denormalized from the catalog entry so evaluation never needs a catalog
// lookup. Scope and Conditions override the catalog defaults per grant.
type Grant struct {
	ID            string         `json:"id"`
	PermissionKey string         `json:"permission_key"`
	Resource      string         `json:"resource"`
	Action        string         `json:"action"`
	Scope         string         `json:"scope,omitempty"`
	Conditions    map[string]any `json:"conditions,omitempty"`
	Status        GrantStatus    `json:"status"`
	GrantedAt     time.Time      `json:"granted_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	GrantedBy     string         `json:"granted_by,omitempty"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
}

// Effective reports whether the grant participates in evaluation at now.
// checkExpiry=false skips only the expiry window, never the status check.
func (g *Grant) Effective(now time.Time, checkExpiry bool) bool {
	if g.Status != GrantActive {
		return false
	}
	if checkExpiry && g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
		return false
	}
	return true
}

// HourWindow restricts role usage to a daily interval (hours in 0..23, UTC).
// A zero window means no restriction.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether t falls inside the window. Windows may wrap past
// midnight (Start > End).
func (w HourWindow) Contains(t time.Time) bool {
	if w.Start == 0 && w.End == 0 {
		return true
	}
	h := t.UTC().Hour()
	if w.Start <= w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}

// SecurityConfig is the per-role hardening profile.
type SecurityConfig struct {
	MaxSessions        int        `json:"max_sessions,omitempty"`
	RequireMFA         bool       `json:"require_mfa,omitempty"`
	AllowedIPs         []string   `json:"allowed_ips,omitempty"`
	AllowedHours       HourWindow `json:"allowed_hours,omitempty"`
	MaxRequestsPerHour int        `json:"max_requests_per_hour,omitempty"`
}

// Role is a named position in the fixed hierarchy, holding an ordered list of
// grants. Grant order is significant: evaluation is strictly first-match.
type Role struct {
	Name       RoleName       `json:"name"`
	Category   string         `json:"category"`
	Active     bool           `json:"active"`
	AssignedAt time.Time      `json:"assigned_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	AssignedBy string         `json:"assigned_by,omitempty"`
	Grants     []Grant        `json:"grants"`
	Security   SecurityConfig `json:"security"`
}

// Level returns the fixed hierarchy level for the role name, 0 if unknown.
func (r *Role) Level() int {
	lvl, _ := LevelOf(r.Name)
	return lvl
}

// Effective reports whether the role participates in evaluation at now.
func (r *Role) Effective(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}

// District is an administrative subdivision of a state.
type District struct {
	Code            string `json:"code"`
	Name            string `json:"name,omitempty"`
	MiningIntensity string `json:"mining_intensity,omitempty"`
	Active          bool   `json:"active"`
}

// State partitions a principal's authority by jurisdiction. The same
// principal may hold entirely different roles in different states.
type State struct {
	Code      string     `json:"code"`
	Region    string     `json:"region,omitempty"`
	Active    bool       `json:"active"`
	Districts []District `json:"districts,omitempty"`
	Roles     []Role     `json:"roles"`
}

// District returns the district with the given code, or nil.
func (s *State) District(code string) *District {
	for i := range s.Districts {
		if s.Districts[i].Code == code {
			return &s.Districts[i]
		}
	}
	return nil
}

// Role returns the role with the given name, or nil.
func (s *State) Role(name RoleName) *Role {
	for i := range s.Roles {
		if s.Roles[i].Name == name {
			return &s.Roles[i]
		}
	}
	return nil
}

// SessionFlags are the adaptive-security markers on a session.
type SessionFlags struct {
	RequiresReauth     bool `json:"requires_reauth"`
	SuspiciousActivity bool `json:"suspicious_activity"`
	UnusualLocation    bool `json:"unusual_location"`
}

// Session is one device's authenticated presence. Credentials themselves are
// never stored; only the sha256 of the refresh secret is kept for rotation.
type Session struct {
	ID                string       `json:"id"`
	DeviceFingerprint string       `json:"device_fingerprint"`
	UserAgent         string       `json:"user_agent,omitempty"`
	DeviceType        string       `json:"device_type,omitempty"`
	OS                string       `json:"os,omitempty"`
	Browser           string       `json:"browser,omitempty"`
	IP                string       `json:"ip,omitempty"`
	Country           string       `json:"country,omitempty"`
	RefreshTokenHash  string       `json:"refresh_token_hash,omitempty"`
	RefreshExpiresAt  time.Time    `json:"refresh_expires_at"`
	RiskScore         int          `json:"risk_score"`
	RiskLevel         string       `json:"risk_level"`
	Trusted           bool         `json:"trusted"`
	Flags             SessionFlags `json:"flags"`
	CreatedAt         time.Time    `json:"created_at"`
	LastUsedAt        time.Time    `json:"last_used_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
}

// EntryStatus is the overall lifecycle state of a registry entry. Entries are
// never hard-deleted; they transition status instead.
type EntryStatus string

const (
	EntryActive    EntryStatus = "active"
	EntrySuspended EntryStatus = "suspended"
	EntryArchived  EntryStatus = "archived"
)

// Entry is the per-principal registry aggregate: the full jurisdiction, role
// and grant hierarchy plus security metadata. Exactly one entry exists per
// principal, created atomically with it.
type Entry struct {
	PrincipalID       string      `json:"principal_id"`
	Status            EntryStatus `json:"status"`
	VerificationLevel string      `json:"verification_level,omitempty"`
	AccessTier        string      `json:"access_tier,omitempty"`
	States            []State     `json:"states"`
	Sessions          []Session   `json:"sessions,omitempty"`
	TrustedDevices    []string    `json:"trusted_devices,omitempty"`
	CommonCountries   []string    `json:"common_countries,omitempty"`
	AccessCount       int64       `json:"access_count"`
	LastAccessAt      *time.Time  `json:"last_access_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// State returns the state with the given code, or nil.
func (e *Entry) State(code string) *State {
	for i := range e.States {
		if e.States[i].Code == code {
			return &e.States[i]
		}
	}
	return nil
}

// MaxActiveLevel returns the highest level among the principal's effective
// roles across all active states, 0 when none.
func (e *Entry) MaxActiveLevel(now time.Time) int {
	max := 0
	for i := range e.States {
		st := &e.States[i]
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if !r.Effective(now) {
				continue
			}
			if lvl := r.Level(); lvl > max {
				max = lvl
			}
		}
	}
	return max
}

// HasActiveState reports whether the entry holds an active state for code.
func (e *Entry) HasActiveState(code string) bool {
	st := e.State(code)
	return st != nil && st.Active
}

// HasActiveDistrict reports whether the entry holds an active district under
// an active state.
func (e *Entry) HasActiveDistrict(stateCode, districtCode string) bool {
	st := e.State(stateCode)
	if st == nil || !st.Active {
		return false
	}
	d := st.District(districtCode)
	return d != nil && d.Active
}

// Session returns the session with the given id, or nil.
func (e *Entry) Session(id string) *Session {
	for i := range e.Sessions {
		if e.Sessions[i].ID == id {
			return &e.Sessions[i]
		}
	}
	return nil
}

// TrustsDevice reports whether the fingerprint is in the trusted-device set.
func (e *Entry) TrustsDevice(fingerprint string) bool {
	for _, f := range e.TrustedDevices {
		if f == fingerprint {
			return true
		}
	}
	return false
}

// KnowsCountry reports whether the country is historically common for the
// principal. An empty history trusts nothing.
func (e *Entry) KnowsCountry(country string) bool {
	for _, c := range e.CommonCountries {
		if c == country {
			return true
		}
	}
	return false
}
