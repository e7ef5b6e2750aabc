// Package session manages the session lifecycle: creation with device-risk
// scoring, validation, refresh, revocation, and the login workflow in front
// of it all.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/bruteforce"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/ids"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/security"
)

const (
	defaultAccessTTL   = time.Hour
	defaultRefreshTTL  = 90 * 24 * time.Hour
	defaultMaxSessions = 5
	defaultMaxFailures = 5
	defaultLockWindow  = 30 * time.Minute

	// recentEventWindow is the look-back span for the risk score's
	// security-event factor.
	recentEventWindow = time.Hour
)

// DeviceContext describes the requesting device at login/session creation.
type DeviceContext struct {
	IP         string
	Country    string
	UserAgent  string
	DeviceType string
	OS         string
	Browser    string
	MFACode    string
}

// CreateResult is what a successful session creation hands to the caller.
type CreateResult struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RiskScore        int
	RiskLevel        string
	RequiresReauth   bool
}

// Manager drives the session lifecycle.
type Manager struct {
	store    registry.Store
	guard    *bruteforce.Guard
	recorder *audit.Recorder

	tokenSecret []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	maxSessions int
	maxFailures int
	lockWindow  time.Duration
	now         func() time.Time

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Option configures the Manager.
type Option func(*Manager)

// WithIssuer sets the access-token issuer claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) { m.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL sets the access credential lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL sets the rotation credential lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithMaxSessions bounds the per-principal session list.
func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithLockPolicy sets the failed-login count that locks an account and for
// how long.
func WithLockPolicy(maxFailures int, window time.Duration) Option {
	return func(m *Manager) {
		if maxFailures > 0 {
			m.maxFailures = maxFailures
		}
		if window > 0 {
			m.lockWindow = window
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. tokenSecret signs access credentials.
func NewManager(store registry.Store, guard *bruteforce.Guard, recorder *audit.Recorder, tokenSecret string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(tokenSecret) == "" {
		return nil, errors.New("session: token secret is required")
	}
	m := &Manager{
		store:       store,
		guard:       guard,
		recorder:    recorder,
		tokenSecret: []byte(tokenSecret),
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		maxSessions: defaultMaxSessions,
		maxFailures: defaultMaxFailures,
		lockWindow:  defaultLockWindow,
		now:         time.Now,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Login authenticates email+password and creates a session. The brute-force
// guard is consulted before any credential work, so a blocked IP never
// reaches password verification.
func (m *Manager) Login(ctx context.Context, email, password string, dev DeviceContext) (CreateResult, error) {
	blocked, err := m.guard.IsBlocked(ctx, dev.IP)
	if err != nil {
		return CreateResult{}, err
	}
	if blocked {
		return CreateResult{}, security.New(security.ReasonIPBlocked, "source address is temporarily blocked")
	}

	email = strings.TrimSpace(strings.ToLower(email))
	now := m.now().UTC()

	p, err := m.store.PrincipalByEmail(ctx, email)
	if errors.Is(err, registry.ErrNotFound) {
		m.failLogin(ctx, nil, email, dev, "unknown email")
		return CreateResult{}, security.New(security.ReasonInvalidCredentials, "invalid email or password")
	}
	if err != nil {
		return CreateResult{}, err
	}
	if p.Locked(now) {
		return CreateResult{}, security.New(security.ReasonAccountLocked, "account temporarily locked")
	}
	if !p.Active {
		return CreateResult{}, security.New(security.ReasonAccountInactive, "account is inactive")
	}

	if err := security.VerifyPassword(p.PasswordHash, password); err != nil {
		m.failLogin(ctx, p, email, dev, "bad password")
		return CreateResult{}, security.New(security.ReasonInvalidCredentials, "invalid email or password")
	}

	// Forgive near-miss history for this pair. An already-active block is a
	// separate state machine and stays in force.
	if err := m.guard.ClearOnSuccess(ctx, dev.IP, email); err != nil {
		obs.LogEvent("session.clear_history_failed", map[string]any{"error": err.Error()})
	}
	if p.FailedLogins != 0 || p.LockedUntil != nil {
		p.FailedLogins = 0
		p.LockedUntil = nil
		if err := m.store.SavePrincipal(ctx, p); err != nil {
			obs.LogEvent("session.reset_failures_failed", map[string]any{"error": err.Error()})
		}
	}

	res, err := m.CreateSession(ctx, p.ID, dev)
	if err != nil {
		return CreateResult{}, err
	}
	m.recorder.Record(ctx, &audit.Record{
		Actor:   audit.Actor{PrincipalID: p.ID, IP: dev.IP, SessionID: res.SessionID},
		Action:  audit.ActionLogin,
		Target:  audit.Target{PrincipalID: p.ID, Type: "session", ID: res.SessionID},
		Result:  audit.ResultSuccess,
		Risk:    audit.RiskLevel(res.RiskLevel),
		Details: map[string]any{"risk_score": res.RiskScore},
	})
	return res, nil
}

func (m *Manager) failLogin(ctx context.Context, p *registry.Principal, email string, dev DeviceContext, why string) {
	if err := m.guard.RecordEvent(ctx, dev.IP, email, bruteforce.EventLoginFailed, map[string]any{"why": why}); err != nil {
		obs.LogEvent("session.record_failure_failed", map[string]any{"error": err.Error()})
	}
	if p != nil {
		p.FailedLogins++
		if p.FailedLogins >= m.maxFailures {
			until := m.now().UTC().Add(m.lockWindow)
			p.LockedUntil = &until
		}
		if err := m.store.SavePrincipal(ctx, p); err != nil {
			obs.LogEvent("session.save_failures_failed", map[string]any{"error": err.Error()})
		}
	}
	m.recorder.Record(ctx, &audit.Record{
		Actor:   audit.Actor{PrincipalID: principalID(p), IP: dev.IP},
		Action:  audit.ActionLogin,
		Result:  audit.ResultFailure,
		Risk:    audit.RiskMedium,
		Details: map[string]any{"email": email, "why": why},
	})
}

func principalID(p *registry.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

// CreateSession scores the requesting device and opens a session for the
// principal. The session is prepended to the principal's list, which is then
// trimmed to the most recently used entries.
func (m *Manager) CreateSession(ctx context.Context, principalID string, dev DeviceContext) (CreateResult, error) {
	now := m.now().UTC()

	p, err := m.store.Principal(ctx, principalID)
	if errors.Is(err, registry.ErrNotFound) {
		return CreateResult{}, security.Newf(security.ReasonUserNotFound, "principal %s not found", principalID)
	}
	if err != nil {
		return CreateResult{}, err
	}
	entry, err := m.store.Entry(ctx, principalID)
	if err != nil {
		return CreateResult{}, err
	}
	if !p.Active || entry.Status != registry.EntryActive {
		return CreateResult{}, security.New(security.ReasonAccountInactive, "account is inactive")
	}

	if err := m.checkMFA(ctx, p, entry, dev, now); err != nil {
		return CreateResult{}, err
	}

	fingerprint := Fingerprint(dev.UserAgent, dev.DeviceType, dev.OS, dev.Browser)
	blocked, err := m.guard.IsBlocked(ctx, dev.IP)
	if err != nil {
		return CreateResult{}, err
	}
	recent, err := m.guard.RecentEventCount(ctx, dev.IP, recentEventWindow)
	if err != nil {
		return CreateResult{}, err
	}

	score := ScoreRisk(RiskInput{
		IPBlocked:            blocked,
		UnknownDevice:        !entry.TrustsDevice(fingerprint),
		UnknownCountry:       !entry.KnowsCountry(dev.Country),
		RecentSecurityEvents: recent,
	})

	sessionID := ids.NewSession()
	refreshToken, refreshHash, err := newRefreshToken(principalID, sessionID)
	if err != nil {
		return CreateResult{}, err
	}
	accessToken, accessExp, err := m.signAccessToken(principalID, sessionID, now)
	if err != nil {
		return CreateResult{}, err
	}

	sess := registry.Session{
		ID:                sessionID,
		DeviceFingerprint: fingerprint,
		UserAgent:         dev.UserAgent,
		DeviceType:        dev.DeviceType,
		OS:                dev.OS,
		Browser:           dev.Browser,
		IP:                dev.IP,
		Country:           dev.Country,
		RefreshTokenHash:  refreshHash,
		RefreshExpiresAt:  now.Add(m.refreshTTL),
		RiskScore:         score,
		RiskLevel:         RiskBand(score),
		Trusted:           score < 50,
		Flags: registry.SessionFlags{
			RequiresReauth:     score > 70,
			SuspiciousActivity: score > 50,
			UnusualLocation:    score > 30,
		},
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(m.refreshTTL),
	}

	entry.Sessions = append([]registry.Session{sess}, entry.Sessions...)
	m.trimSessions(entry, now)
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return CreateResult{}, err
	}

	obs.CountSessionCreated(sess.RiskLevel)
	m.recorder.Record(ctx, &audit.Record{
		Actor:  audit.Actor{PrincipalID: principalID, IP: dev.IP, SessionID: sessionID},
		Action: audit.ActionSessionCreated,
		Target: audit.Target{PrincipalID: principalID, Type: "session", ID: sessionID},
		Result: audit.ResultSuccess,
		Risk:   audit.RiskLevel(sess.RiskLevel),
		Details: map[string]any{
			"risk_score":  score,
			"fingerprint": fingerprint,
			"country":     dev.Country,
		},
	})

	return CreateResult{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: sess.RefreshExpiresAt,
		RiskScore:        score,
		RiskLevel:        sess.RiskLevel,
		RequiresReauth:   sess.Flags.RequiresReauth,
	}, nil
}

// checkMFA enforces the strictest role security config: if any effective
// role requires MFA and the principal has an enrolled secret, the request
// must carry a valid TOTP code.
func (m *Manager) checkMFA(ctx context.Context, p *registry.Principal, entry *registry.Entry, dev DeviceContext, now time.Time) error {
	required := false
	for i := range entry.States {
		st := &entry.States[i]
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if r.Effective(now) && r.Security.RequireMFA {
				required = true
			}
		}
	}
	if !required || p.MFASecret == "" {
		return nil
	}
	if dev.MFACode == "" {
		return security.New(security.ReasonMFARequired, "a one-time code is required")
	}
	if !totp.Validate(dev.MFACode, p.MFASecret) {
		if err := m.guard.RecordEvent(ctx, dev.IP, p.Email, bruteforce.EventMFAFailed, nil); err != nil {
			obs.LogEvent("session.record_mfa_failure_failed", map[string]any{"error": err.Error()})
		}
		return security.New(security.ReasonMFARequired, "one-time code rejected")
	}
	return nil
}

// ValidateSession authenticates an access credential. Invalid and expired
// outcomes feed the brute-force ledger as invalid_session events.
func (m *Manager) ValidateSession(ctx context.Context, accessToken, ip, userAgent string) (*registry.Principal, *registry.Session, error) {
	blocked, err := m.guard.IsBlocked(ctx, ip)
	if err != nil {
		return nil, nil, err
	}
	if blocked {
		return nil, nil, security.New(security.ReasonIPBlocked, "source address is temporarily blocked")
	}

	claims, err := m.parseAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			m.noteInvalidSession(ctx, ip, "token expired")
			return nil, nil, security.New(security.ReasonSessionExpired, "access credential expired")
		}
		m.noteInvalidSession(ctx, ip, "token invalid")
		return nil, nil, security.New(security.ReasonSessionNotFound, "unrecognized access credential")
	}

	now := m.now().UTC()
	entry, err := m.store.Entry(ctx, claims.Subject)
	if errors.Is(err, registry.ErrNotFound) {
		m.noteInvalidSession(ctx, ip, "principal gone")
		return nil, nil, security.New(security.ReasonSessionNotFound, "session does not exist")
	}
	if err != nil {
		return nil, nil, err
	}
	sess := entry.Session(claims.SessionID)
	if sess == nil {
		m.noteInvalidSession(ctx, ip, "session revoked or pruned")
		return nil, nil, security.New(security.ReasonSessionNotFound, "session does not exist")
	}
	if now.After(sess.ExpiresAt) {
		m.noteInvalidSession(ctx, ip, "session expired")
		return nil, nil, security.New(security.ReasonSessionExpired, "session expired")
	}
	if sess.Flags.RequiresReauth {
		return nil, nil, security.New(security.ReasonReauthRequired, "session requires re-authentication")
	}

	p, err := m.store.Principal(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if !p.Active || entry.Status != registry.EntryActive {
		return nil, nil, security.New(security.ReasonAccountInactive, "account is inactive")
	}

	if err := m.checkRoleRestrictions(entry, ip, now); err != nil {
		return nil, nil, err
	}
	if !m.allowRequest(claims.Subject, entry, now) {
		return nil, nil, security.New(security.ReasonRateLimited, "request quota exhausted for this account")
	}

	// Advisory bookkeeping only; a lost update here affects idle-timeout
	// accounting, never authorization.
	sess.LastUsedAt = now
	entry.AccessCount++
	entry.LastAccessAt = &now
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		obs.LogEvent("session.touch_failed", map[string]any{"error": err.Error(), "session": sess.ID})
	}

	out := *sess
	return p, &out, nil
}

func (m *Manager) noteInvalidSession(ctx context.Context, ip, why string) {
	if err := m.guard.RecordEvent(ctx, ip, "", bruteforce.EventInvalidSession, map[string]any{"why": why}); err != nil {
		obs.LogEvent("session.record_invalid_failed", map[string]any{"error": err.Error()})
	}
}

// checkRoleRestrictions enforces per-role IP allow-lists and working-hour
// windows. The session passes if at least one effective role admits the
// request.
func (m *Manager) checkRoleRestrictions(entry *registry.Entry, ip string, now time.Time) error {
	restricted := false
	for i := range entry.States {
		st := &entry.States[i]
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if !r.Effective(now) {
				continue
			}
			if len(r.Security.AllowedIPs) == 0 && r.Security.AllowedHours == (registry.HourWindow{}) {
				return nil
			}
			restricted = true
			if ipAllowed(r.Security.AllowedIPs, ip) && r.Security.AllowedHours.Contains(now) {
				return nil
			}
		}
	}
	if !restricted {
		return nil
	}
	return security.New(security.ReasonPermissionDenied, "no role admits this source address at this hour")
}

func ipAllowed(allowed []string, ip string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == ip {
			return true
		}
	}
	return false
}

// allowRequest applies the strictest hourly request quota among the
// principal's effective roles. Roles without a quota leave the principal
// unlimited.
func (m *Manager) allowRequest(principalID string, entry *registry.Entry, now time.Time) bool {
	quota := 0
	for i := range entry.States {
		st := &entry.States[i]
		if !st.Active {
			continue
		}
		for j := range st.Roles {
			r := &st.Roles[j]
			if !r.Effective(now) || r.Security.MaxRequestsPerHour <= 0 {
				continue
			}
			if quota == 0 || r.Security.MaxRequestsPerHour < quota {
				quota = r.Security.MaxRequestsPerHour
			}
		}
	}
	if quota == 0 {
		return true
	}

	m.limiterMu.Lock()
	lim, ok := m.limiters[principalID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(quota)/3600.0), quota)
		m.limiters[principalID] = lim
	}
	m.limiterMu.Unlock()
	return lim.Allow()
}

// RefreshSession exchanges a rotation credential for a fresh access
// credential bound to the same session. The risk score is not recomputed.
func (m *Manager) RefreshSession(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error) {
	principalID, sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return "", time.Time{}, security.New(security.ReasonSessionNotFound, "unrecognized rotation credential")
	}
	now := m.now().UTC()

	entry, err := m.store.Entry(ctx, principalID)
	if errors.Is(err, registry.ErrNotFound) {
		return "", time.Time{}, security.New(security.ReasonSessionNotFound, "session does not exist")
	}
	if err != nil {
		return "", time.Time{}, err
	}
	sess := entry.Session(sessionID)
	if sess == nil {
		return "", time.Time{}, security.New(security.ReasonSessionNotFound, "session does not exist")
	}
	if now.After(sess.RefreshExpiresAt) {
		return "", time.Time{}, security.New(security.ReasonSessionExpired, "rotation credential expired")
	}
	if !refreshSecretMatches(sess.RefreshTokenHash, secret) {
		m.noteInvalidSession(ctx, sess.IP, "refresh secret mismatch")
		return "", time.Time{}, security.New(security.ReasonSessionNotFound, "unrecognized rotation credential")
	}

	return m.signAccessToken(principalID, sessionID, now)
}

// RevokeSession removes a session. It is idempotent, and it always reports
// success so the caller clears client-visible credentials even when the
// internal write failed: observable logout is guaranteed.
func (m *Manager) RevokeSession(ctx context.Context, principalID, sessionID string) {
	entry, err := m.store.Entry(ctx, principalID)
	if err != nil {
		obs.LogEvent("session.revoke_load_failed", map[string]any{"error": err.Error(), "session": sessionID})
		return
	}
	idx := -1
	for i := range entry.Sessions {
		if entry.Sessions[i].ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	entry.Sessions = append(entry.Sessions[:idx], entry.Sessions[idx+1:]...)
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		obs.LogEvent("session.revoke_save_failed", map[string]any{"error": err.Error(), "session": sessionID})
		return
	}
	m.recorder.Record(ctx, &audit.Record{
		Actor:  audit.Actor{PrincipalID: principalID, SessionID: sessionID},
		Action: audit.ActionSessionRevoked,
		Target: audit.Target{PrincipalID: principalID, Type: "session", ID: sessionID},
		Result: audit.ResultSuccess,
		Risk:   audit.RiskLow,
	})
}

// GetActiveSessions returns the principal's sessions for self-service
// review, most recently used first, with credential material redacted.
func (m *Manager) GetActiveSessions(ctx context.Context, principalID string) ([]registry.Session, error) {
	entry, err := m.store.Entry(ctx, principalID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, security.Newf(security.ReasonUserNotFound, "principal %s not found", principalID)
	}
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	out := make([]registry.Session, 0, len(entry.Sessions))
	for _, s := range entry.Sessions {
		if now.After(s.ExpiresAt) {
			continue
		}
		s.RefreshTokenHash = ""
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

// SweepExpired drops expired sessions from the principal's list.
func (m *Manager) SweepExpired(ctx context.Context, principalID string) error {
	entry, err := m.store.Entry(ctx, principalID)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	now := m.now().UTC()
	kept := entry.Sessions[:0]
	for _, s := range entry.Sessions {
		if now.After(s.ExpiresAt) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == len(entry.Sessions) {
		return nil
	}
	entry.Sessions = kept
	return m.store.SaveEntry(ctx, entry)
}

// trimSessions bounds the session list to the most recently used N.
func (m *Manager) trimSessions(entry *registry.Entry, now time.Time) {
	kept := entry.Sessions[:0]
	for _, s := range entry.Sessions {
		if now.After(s.ExpiresAt) {
			continue
		}
		kept = append(kept, s)
	}
	entry.Sessions = kept
	if len(entry.Sessions) <= m.maxSessions {
		return
	}
	sort.SliceStable(entry.Sessions, func(i, j int) bool {
		return entry.Sessions[i].LastUsedAt.After(entry.Sessions[j].LastUsedAt)
	})
	entry.Sessions = entry.Sessions[:m.maxSessions]
}
