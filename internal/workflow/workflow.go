// Package workflow orchestrates mutations of the permission hierarchy:
// authority validation, the registry write, and the audit record, as one
// atomic unit per operation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/authority"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/ids"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/security"
)

// Service runs the mutation workflows. Each public method opens and owns a
// store transaction; use InTx to compose several workflows inside a caller
// owned transaction instead.
type Service struct {
	store    registry.Store
	catalog  *catalog.Catalog
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a workflow service.
func NewService(store registry.Store, cat *catalog.Catalog, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{store: store, catalog: cat, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx returns a Service bound to a transaction-scoped store. Workflows run
// through it participate in the caller's transaction without committing.
func (s *Service) InTx(tx registry.Store) *Service {
	cp := *s
	cp.store = tx
	return &cp
}

// AssignRoleInput describes one role assignment.
type AssignRoleInput struct {
	AssignerID   string
	TargetID     string
	Role         registry.RoleName
	StateCode    string
	DistrictCode string
	// Reason is mandatory: every hierarchy change must be justified for
	// compliance review.
	Reason    string
	ExpiresAt *time.Time
	Security  *registry.SecurityConfig
	IP        string
}

// AssignRole grants a role to the target principal inside a state. The state
// entry is created on the target when absent.
func (s *Service) AssignRole(ctx context.Context, in AssignRoleInput) (*registry.Role, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("assign role: reason is required")
	}
	if in.StateCode == "" {
		return nil, fmt.Errorf("assign role: state code is required")
	}
	now := s.now().UTC()

	var assigned *registry.Role
	var beforeState, afterState *registry.State
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx registry.Store) error {
		assignerEntry, assignerLevel, err := s.loadAssigner(ctx, tx, in.AssignerID, now)
		if err != nil {
			return err
		}
		targetEntry, err := tx.Entry(ctx, in.TargetID)
		if errors.Is(err, registry.ErrNotFound) {
			return security.Newf(security.ReasonUserNotFound, "target principal %s has no registry entry", in.TargetID)
		}
		if err != nil {
			return err
		}

		decision := authority.ValidateGrantAuthority(assignerLevel, in.Role, in.StateCode, in.DistrictCode, assignerEntry)
		if !decision.Valid {
			s.recordViolation(ctx, in.AssignerID, in.TargetID, assignerLevel, decision, in.StateCode, in.DistrictCode, in.IP, "assign_role")
			return security.New(security.ReasonHierarchyViolation, decision.Message).WithDetails(map[string]any{
				"assigner_level": assignerLevel,
				"target_level":   decision.TargetLevel,
			})
		}

		st := targetEntry.State(in.StateCode)
		if st == nil {
			targetEntry.States = append(targetEntry.States, registry.State{Code: in.StateCode, Active: true})
			st = &targetEntry.States[len(targetEntry.States)-1]
		} else {
			snapshot := *st
			beforeState = &snapshot
		}
		if st.Role(in.Role) != nil {
			return fmt.Errorf("assign role: %w: role %s already held in state %s", registry.ErrConflict, in.Role, in.StateCode)
		}

		category, _ := registry.CategoryOf(in.Role)
		role := registry.Role{
			Name:       in.Role,
			Category:   category,
			Active:     true,
			AssignedAt: now,
			ExpiresAt:  in.ExpiresAt,
			AssignedBy: in.AssignerID,
			Grants:     []registry.Grant{},
		}
		if in.Security != nil {
			role.Security = *in.Security
		}
		st.Roles = append(st.Roles, role)
		if err := tx.SaveEntry(ctx, targetEntry); err != nil {
			return err
		}
		assigned = &st.Roles[len(st.Roles)-1]
		snapshot := *st
		afterState = &snapshot

		s.recorder.Record(ctx, &audit.Record{
			Actor:  audit.Actor{PrincipalID: in.AssignerID, Level: assignerLevel, IP: in.IP},
			Action: audit.ActionRoleAssignment,
			Target: audit.Target{
				PrincipalID: in.TargetID,
				Type:        "role",
				ID:          string(in.Role),
				Level:       decision.TargetLevel,
				Before:      beforeState,
				After:       afterState,
			},
			Jurisdiction: audit.Jurisdiction{StateCode: in.StateCode, DistrictCode: in.DistrictCode},
			Stage:        "assign_role",
			Result:       audit.ResultSuccess,
			Risk:         audit.RiskLow,
			Details:      map[string]any{"reason": in.Reason},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// RemoveRoleInput describes one role revocation.
type RemoveRoleInput struct {
	RemoverID string
	TargetID  string
	Role      registry.RoleName
	StateCode string
	Reason    string
	IP        string
}

// RemoveRole revokes a role held by the target principal in a state. The
// full pre-removal role snapshot goes into the audit record.
func (s *Service) RemoveRole(ctx context.Context, in RemoveRoleInput) error {
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("remove role: reason is required")
	}
	now := s.now().UTC()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx registry.Store) error {
		_, removerLevel, err := s.loadAssigner(ctx, tx, in.RemoverID, now)
		if err != nil {
			return err
		}
		targetEntry, err := tx.Entry(ctx, in.TargetID)
		if errors.Is(err, registry.ErrNotFound) {
			return security.Newf(security.ReasonUserNotFound, "target principal %s has no registry entry", in.TargetID)
		}
		if err != nil {
			return err
		}

		st := targetEntry.State(in.StateCode)
		if st == nil {
			return security.Newf(security.ReasonStateNotFound, "target holds no state %s", in.StateCode)
		}
		idx := -1
		for i := range st.Roles {
			if st.Roles[i].Name == in.Role {
				idx = i
				break
			}
		}
		if idx < 0 {
			return security.Newf(security.ReasonRoleNotFound, "target holds no role %s in state %s", in.Role, in.StateCode)
		}

		// Snapshot before deletion; this is the only surviving copy.
		removed := st.Roles[idx]
		targetLevel := removed.Level()

		if !authority.ValidateRevokeAuthority(removerLevel, targetLevel) {
			decision := authority.GrantDecision{
				TargetLevel: targetLevel,
				Message:     fmt.Sprintf("level %d may not revoke level %d", removerLevel, targetLevel),
			}
			s.recordViolation(ctx, in.RemoverID, in.TargetID, removerLevel, decision, in.StateCode, "", in.IP, "remove_role")
			return security.New(security.ReasonHierarchyViolation, decision.Message).WithDetails(map[string]any{
				"remover_level": removerLevel,
				"target_level":  targetLevel,
			})
		}

		st.Roles = append(st.Roles[:idx], st.Roles[idx+1:]...)
		if err := tx.SaveEntry(ctx, targetEntry); err != nil {
			return err
		}

		s.recorder.Record(ctx, &audit.Record{
			Actor:  audit.Actor{PrincipalID: in.RemoverID, Level: removerLevel, IP: in.IP},
			Action: audit.ActionRoleRevocation,
			Target: audit.Target{
				PrincipalID: in.TargetID,
				Type:        "role",
				ID:          string(in.Role),
				Level:       targetLevel,
				Before:      &removed,
			},
			Jurisdiction: audit.Jurisdiction{StateCode: in.StateCode},
			Stage:        "remove_role",
			Result:       audit.ResultSuccess,
			Risk:         audit.RiskMedium,
			Details:      map[string]any{"reason": in.Reason},
		})
		return nil
	})
}

// GrantSpec names one catalog permission to place into a role, with optional
// per-grant overrides.
type GrantSpec struct {
	PermissionKey string
	Scope         string
	Conditions    map[string]any
	ExpiresAt     *time.Time
}

// UpdatePermissionsInput describes a full replacement of a role's grant set.
type UpdatePermissionsInput struct {
	AssignerID string
	TargetID   string
	Role       registry.RoleName
	StateCode  string
	Grants     []GrantSpec
	Reason     string
	IP         string
}

// UpdatePermissions atomically replaces the grant set of a role. The
// returned count is the size of the new grant set.
func (s *Service) UpdatePermissions(ctx context.Context, in UpdatePermissionsInput) (int, error) {
	now := s.now().UTC()

	affected := 0
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx registry.Store) error {
		assignerEntry, assignerLevel, err := s.loadAssigner(ctx, tx, in.AssignerID, now)
		if err != nil {
			return err
		}
		targetEntry, err := tx.Entry(ctx, in.TargetID)
		if errors.Is(err, registry.ErrNotFound) {
			return security.Newf(security.ReasonUserNotFound, "target principal %s has no registry entry", in.TargetID)
		}
		if err != nil {
			return err
		}

		decision := authority.ValidateGrantAuthority(assignerLevel, in.Role, in.StateCode, "", assignerEntry)
		if !decision.Valid {
			s.recordViolation(ctx, in.AssignerID, in.TargetID, assignerLevel, decision, in.StateCode, "", in.IP, "update_permissions")
			return security.New(security.ReasonHierarchyViolation, decision.Message).WithDetails(map[string]any{
				"assigner_level": assignerLevel,
				"target_level":   decision.TargetLevel,
			})
		}

		st := targetEntry.State(in.StateCode)
		if st == nil {
			return security.Newf(security.ReasonStateNotFound, "target holds no state %s", in.StateCode)
		}
		role := st.Role(in.Role)
		if role == nil {
			return security.Newf(security.ReasonRoleNotFound, "target holds no role %s in state %s", in.Role, in.StateCode)
		}

		before := append([]registry.Grant(nil), role.Grants...)
		grants := make([]registry.Grant, 0, len(in.Grants))
		for _, spec := range in.Grants {
			def, ok := s.catalog.Lookup(spec.PermissionKey)
			if !ok {
				return fmt.Errorf("update permissions: unknown permission key %q", spec.PermissionKey)
			}
			scope := spec.Scope
			if scope == "" {
				scope = def.Scope
			}
			grants = append(grants, registry.Grant{
				ID:            ids.New(),
				PermissionKey: def.Key,
				Resource:      def.Resource,
				Action:        def.Action,
				Scope:         scope,
				Conditions:    spec.Conditions,
				Status:        registry.GrantActive,
				GrantedAt:     now,
				ExpiresAt:     spec.ExpiresAt,
				GrantedBy:     in.AssignerID,
			})
		}
		role.Grants = grants
		if err := tx.SaveEntry(ctx, targetEntry); err != nil {
			return err
		}
		affected = len(grants)

		s.recorder.Record(ctx, &audit.Record{
			Actor:  audit.Actor{PrincipalID: in.AssignerID, Level: assignerLevel, IP: in.IP},
			Action: audit.ActionPermissionUpdate,
			Target: audit.Target{
				PrincipalID: in.TargetID,
				Type:        "role_grants",
				ID:          string(in.Role),
				Level:       decision.TargetLevel,
				Before:      before,
				After:       grants,
			},
			Jurisdiction: audit.Jurisdiction{StateCode: in.StateCode},
			Stage:        "update_permissions",
			Result:       audit.ResultSuccess,
			Risk:         audit.RiskLow,
			Details: map[string]any{
				"reason":           in.Reason,
				"affected_records": affected,
			},
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Service) loadAssigner(ctx context.Context, tx registry.Store, assignerID string, now time.Time) (*registry.Entry, int, error) {
	entry, err := tx.Entry(ctx, assignerID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, 0, security.Newf(security.ReasonUserNotFound, "assigner %s has no registry entry", assignerID)
	}
	if err != nil {
		return nil, 0, err
	}
	return entry, entry.MaxActiveLevel(now), nil
}

func (s *Service) recordViolation(ctx context.Context, actorID, targetID string, actorLevel int, decision authority.GrantDecision, stateCode, districtCode, ip, stage string) {
	s.recorder.Record(ctx, &audit.Record{
		Actor:  audit.Actor{PrincipalID: actorID, Level: actorLevel, IP: ip},
		Action: audit.ActionHierarchyViolation,
		Target: audit.Target{
			PrincipalID: targetID,
			Type:        "role",
			Level:       decision.TargetLevel,
		},
		Jurisdiction: audit.Jurisdiction{StateCode: stateCode, DistrictCode: districtCode},
		Stage:        stage,
		Result:       audit.ResultRejected,
		Risk:         audit.RiskHigh,
		Details: map[string]any{
			"actor_level":  actorLevel,
			"target_level": decision.TargetLevel,
			"message":      decision.Message,
		},
	})
}
