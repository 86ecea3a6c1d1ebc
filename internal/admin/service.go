package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/platform/middleware"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

// Service implements the administration operations.
type Service struct {
	store  Store
	engine Engine
	sink   audit.Sink
	logger *slog.Logger
}

func NewService(store Store, engine Engine, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, sink: sink, logger: logger}
}

// GrantPermission sets an explicit allow override.
func (s *Service) GrantPermission(ctx context.Context, actor rbac.Principal, req GrantRequest) (Outcome, error) {
	return s.setGrant(ctx, actor, req, true)
}

// RevokePermission sets an explicit deny override. It is not the same as
// ResetPermission: a revoke beats the role default.
func (s *Service) RevokePermission(ctx context.Context, actor rbac.Principal, req GrantRequest) (Outcome, error) {
	return s.setGrant(ctx, actor, req, false)
}

func (s *Service) setGrant(ctx context.Context, actor rbac.Principal, req GrantRequest, granted bool) (Outcome, error) {
	perm, err := validateGrantRequest(req)
	if err != nil {
		return Outcome{}, err
	}

	target, err := s.loadTarget(ctx, req.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}

	class := rbac.ClassChange
	if !granted {
		class = rbac.ClassDemotion
	}
	if granted && actor.UserID == req.TargetUserID {
		return Outcome{}, fmt.Errorf("%w: cannot grant %s to yourself", ErrSelfElevation, perm.ID)
	}
	if err := s.authorize(ctx, actor, target, class, req.ScopeID); err != nil {
		return Outcome{}, err
	}
	if granted && !rbac.HoldsByDefault(actor.Role, perm.ID) {
		return Outcome{}, &ForbiddenError{Reason: ReasonDelegationExceeded}
	}

	current, exists, err := s.store.GetGrant(ctx, req.TargetUserID, perm.ID, req.ScopeID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading grant: %w", err)
	}
	expected, err := expectedVersion(req.ExpectedVersion, exists, current.Version)
	if err != nil {
		return Outcome{}, err
	}
	if exists && current.Granted == granted {
		return Outcome{Changed: false, Version: current.Version}, nil
	}

	action := audit.ActionPermissionRevoked
	if granted {
		action = audit.ActionPermissionGranted
	}
	change := map[string]any{
		audit.ChangePermission: perm.ID,
		audit.ChangeScope:      req.ScopeID,
		audit.ChangeBefore:     nil,
		audit.ChangeAfter:      granted,
	}
	if exists {
		change[audit.ChangeBefore] = current.Granted
	}
	evt := audit.NewEvent(action, actor.UserID, req.TargetUserID, tenantOf(target, req.ScopeID), change)

	stored, err := s.store.WriteGrant(ctx, rbac.Grant{
		UserID:       req.TargetUserID,
		PermissionID: perm.ID,
		ScopeID:      req.ScopeID,
		Granted:      granted,
		UpdatedBy:    actor.UserID,
	}, expected, s.recordHook(evt))
	if err != nil {
		return Outcome{}, mapStoreErr("writing grant", err)
	}

	s.logger.Info("permission override set",
		"actor_id", actor.UserID, "target_id", req.TargetUserID,
		"permission", perm.ID, "scope_id", req.ScopeID, "granted", granted, "version", stored.Version)
	return Outcome{Changed: true, Version: stored.Version}, nil
}

// ResetPermission deletes an override so the role default applies again.
// Resetting a missing override is a no-op.
func (s *Service) ResetPermission(ctx context.Context, actor rbac.Principal, req GrantRequest) (Outcome, error) {
	perm, err := validateGrantRequest(req)
	if err != nil {
		return Outcome{}, err
	}

	target, err := s.loadTarget(ctx, req.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}

	current, exists, err := s.store.GetGrant(ctx, req.TargetUserID, perm.ID, req.ScopeID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading grant: %w", err)
	}

	// Dropping a revoke can widen access, dropping a grant can only narrow it.
	class := rbac.ClassDemotion
	widens := exists && !current.Granted && rbac.HoldsByDefault(target.Role, perm.ID)
	if widens {
		class = rbac.ClassChange
		if actor.UserID == req.TargetUserID {
			return Outcome{}, fmt.Errorf("%w: cannot lift your own revocation of %s", ErrSelfElevation, perm.ID)
		}
	}
	if err := s.authorize(ctx, actor, target, class, req.ScopeID); err != nil {
		return Outcome{}, err
	}

	expected, err := expectedVersion(req.ExpectedVersion, exists, current.Version)
	if err != nil {
		return Outcome{}, err
	}
	if !exists {
		return Outcome{Changed: false}, nil
	}

	evt := audit.NewEvent(audit.ActionPermissionReset, actor.UserID, req.TargetUserID, tenantOf(target, req.ScopeID), map[string]any{
		audit.ChangePermission: perm.ID,
		audit.ChangeScope:      req.ScopeID,
		audit.ChangeBefore:     current.Granted,
		audit.ChangeAfter:      nil,
	})

	err = s.store.DeleteGrant(ctx, req.TargetUserID, perm.ID, req.ScopeID, expected, s.recordHook(evt))
	if err != nil {
		return Outcome{}, mapStoreErr("deleting grant", err)
	}

	s.logger.Info("permission override reset",
		"actor_id", actor.UserID, "target_id", req.TargetUserID, "permission", perm.ID, "scope_id", req.ScopeID)
	return Outcome{Changed: true}, nil
}

// SetRole assigns a new role and optionally new scope metadata.
func (s *Service) SetRole(ctx context.Context, actor rbac.Principal, req RoleRequest) (Outcome, error) {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return Outcome{}, validationErr("target user id is required")
	}
	newRole, err := rbac.ParseRole(req.Role)
	if err != nil {
		return Outcome{}, validationErr("%v", err)
	}

	target, err := s.loadTarget(ctx, req.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}

	newRank, _ := rbac.RoleRank(newRole)
	class := rbac.ClassChange
	if target.exists {
		curRank, _ := rbac.RoleRank(target.Role)
		if newRank < curRank {
			class = rbac.ClassDemotion
		}
		if actor.UserID == req.TargetUserID && newRank > curRank {
			return Outcome{}, fmt.Errorf("%w: %s to %s", ErrSelfElevation, target.Role, newRole)
		}
	} else if actor.UserID == req.TargetUserID {
		return Outcome{}, fmt.Errorf("%w: cannot assign yourself a first role", ErrSelfElevation)
	}

	next := target.RoleAssignment
	next.UserID = req.TargetUserID
	next.Role = newRole
	next.UpdatedBy = actor.UserID
	if req.ScopeID != nil {
		next.ScopeID = *req.ScopeID
	}
	if req.TenantID != nil {
		next.TenantID = *req.TenantID
	}

	if err := s.authorize(ctx, actor, target, class, ""); err != nil {
		return Outcome{}, err
	}
	// The new placement must be inside the actor's tenants too.
	for _, t := range []string{next.ScopeID, next.TenantID} {
		if !actor.AuthorizedFor(t) {
			return Outcome{}, &ForbiddenError{Reason: rbac.ReasonCrossTenantAccess.String()}
		}
	}
	if !rbac.IsAtLeastAsSeniorAs(actor.Role, newRole) {
		return Outcome{}, &ForbiddenError{Reason: ReasonInsufficientSeniority}
	}

	expected, err := expectedVersion(req.ExpectedVersion, target.exists, target.Version)
	if err != nil {
		return Outcome{}, err
	}
	if target.exists && target.Role == next.Role && target.ScopeID == next.ScopeID && target.TenantID == next.TenantID {
		return Outcome{Changed: false, Version: target.Version}, nil
	}

	change := map[string]any{
		audit.ChangeBefore: nil,
		audit.ChangeAfter:  roleSnapshot(next),
	}
	if target.exists {
		change[audit.ChangeBefore] = roleSnapshot(target.RoleAssignment)
	}
	evt := audit.NewEvent(audit.ActionRoleSet, actor.UserID, req.TargetUserID, tenantOf(target, next.TenantID), change)

	stored, err := s.store.WriteRole(ctx, next, expected, s.recordHook(evt))
	if err != nil {
		return Outcome{}, mapStoreErr("writing role", err)
	}

	s.logger.Info("role set",
		"actor_id", actor.UserID, "target_id", req.TargetUserID,
		"role", string(newRole), "version", stored.Version)
	return Outcome{Changed: true, Version: stored.Version}, nil
}

// Access returns the stored role and overrides of a user, including the
// versions a caller needs for conditional writes.
func (s *Service) Access(ctx context.Context, actor rbac.Principal, targetUserID string) (Access, error) {
	if strings.TrimSpace(targetUserID) == "" {
		return Access{}, validationErr("target user id is required")
	}
	target, err := s.loadTarget(ctx, targetUserID)
	if err != nil {
		return Access{}, err
	}

	res := target.resource("")
	var d rbac.Decision
	if actor.UserID == targetUserID {
		d = s.engine.Evaluate(ctx, actor, rbac.PermSettingsView, res)
	} else {
		d = s.engine.Evaluate(ctx, actor, rbac.PermUserView, res)
	}
	if !d.Allowed {
		return Access{}, &ForbiddenError{Reason: d.Reason.String()}
	}
	if actor.UserID != targetUserID && !rbac.CanManage(actor.Role, target.Role, rbac.ClassRead) {
		return Access{}, &ForbiddenError{Reason: ReasonInsufficientSeniority}
	}

	grants, err := s.store.GetGrants(ctx, targetUserID)
	if err != nil {
		return Access{}, fmt.Errorf("reading grants: %w", err)
	}
	out := Access{UserID: targetUserID, Grants: grants}
	if out.Grants == nil {
		out.Grants = []rbac.Grant{}
	}
	if target.exists {
		a := target.RoleAssignment
		out.Assignment = &a
	}
	return out, nil
}

type targetState struct {
	rbac.RoleAssignment
	exists bool
}

func (t targetState) resource(scopeID string) rbac.Resource {
	return rbac.Resource{Type: "user", OwnerID: t.UserID, TenantID: tenantOf(t, scopeID)}
}

func (s *Service) loadTarget(ctx context.Context, userID string) (targetState, error) {
	a, ok, err := s.store.GetRole(ctx, userID)
	if err != nil {
		return targetState{}, fmt.Errorf("reading role: %w", err)
	}
	if !ok {
		a = rbac.RoleAssignment{UserID: userID}
	}
	return targetState{RoleAssignment: a, exists: ok}, nil
}

// authorize runs the manage_role gate against the target's tenant and,
// when a grant is scoped, against that scope as well. Actors acting on
// themselves are judged by role alone.
func (s *Service) authorize(ctx context.Context, actor rbac.Principal, target targetState, class rbac.MutationClass, scopeID string) error {
	evaluate := s.engine.Evaluate
	if actor.UserID == target.UserID {
		evaluate = s.engine.EvaluateRoleOnly
	}

	scopes := []string{tenantOf(target, "")}
	if scopeID != "" && scopeID != scopes[0] {
		scopes = append(scopes, scopeID)
	}
	for _, tenant := range scopes {
		d := evaluate(ctx, actor, rbac.PermUserManageRole, rbac.Resource{Type: "user", OwnerID: target.UserID, TenantID: tenant})
		if !d.Allowed {
			return &ForbiddenError{Reason: d.Reason.String()}
		}
	}

	if actor.UserID != target.UserID && !rbac.CanManage(actor.Role, target.Role, class) {
		return &ForbiddenError{Reason: ReasonInsufficientSeniority}
	}
	return nil
}

func (s *Service) recordHook(evt audit.Event) grant.CommitHook {
	return func(ctx context.Context) error {
		if id := middleware.GetRequestID(ctx); id != "" {
			evt.Change[audit.ChangeRequestID] = id
		}
		if err := s.sink.Record(ctx, evt); err != nil {
			s.logger.Error("audit write failed, aborting mutation", "action", evt.Action, "target_id", evt.TargetID, "error", err)
			return fmt.Errorf("%w: %v", ErrAuditWrite, err)
		}
		return nil
	}
}

func validateGrantRequest(req GrantRequest) (rbac.Permission, error) {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return rbac.Permission{}, validationErr("target user id is required")
	}
	perm, err := rbac.LookupPermission(req.PermissionID)
	if err != nil {
		return rbac.Permission{}, validationErr("%v", err)
	}
	return perm, nil
}

// expectedVersion reconciles the caller's version token with what the
// store holds now.
func expectedVersion(token *int64, exists bool, current int64) (int64, error) {
	stored := grant.NoVersion
	if exists {
		stored = current
	}
	if token != nil && *token != stored {
		return 0, fmt.Errorf("%w: expected version %d, found %d", ErrConcurrentModification, *token, stored)
	}
	return stored, nil
}

// tenantOf picks the tenant a mutation is filed under: an explicit scope,
// else the target's tenant, else the scope the target administers.
func tenantOf(t targetState, scopeID string) string {
	switch {
	case scopeID != "":
		return scopeID
	case t.TenantID != "":
		return t.TenantID
	default:
		return t.ScopeID
	}
}

func roleSnapshot(a rbac.RoleAssignment) map[string]any {
	return map[string]any{
		"role":      string(a.Role),
		"scope_id":  a.ScopeID,
		"tenant_id": a.TenantID,
	}
}
