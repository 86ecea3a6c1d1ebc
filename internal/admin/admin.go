// Package admin mutates roles and permission overrides. Every mutation is
// authorized by the same engine it changes, checked against seniority, and
// recorded in the audit sink inside the store write.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrForbidden              = errors.New("forbidden")
	ErrSelfElevation          = errors.New("self elevation is not allowed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrAuditWrite             = errors.New("audit write failed")
)

// ForbiddenError carries the reason code of a refused administration call.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

const (
	ReasonInsufficientSeniority = "insufficient_seniority"
	ReasonDelegationExceeded    = "delegation_exceeded"
)

// Store is the grant store as administration needs it.
type Store interface {
	rbac.GrantReader
	rbac.RoleReader
	GetGrant(ctx context.Context, userID, permissionID, scopeID string) (rbac.Grant, bool, error)
	WriteGrant(ctx context.Context, g rbac.Grant, expectedVersion int64, hook grant.CommitHook) (rbac.Grant, error)
	DeleteGrant(ctx context.Context, userID, permissionID, scopeID string, expectedVersion int64, hook grant.CommitHook) error
	WriteRole(ctx context.Context, a rbac.RoleAssignment, expectedVersion int64, hook grant.CommitHook) (rbac.RoleAssignment, error)
}

// Engine is the evaluator as administration needs it.
type Engine interface {
	Evaluate(ctx context.Context, p rbac.Principal, permissionID string, r rbac.Resource) rbac.Decision
	EvaluateRoleOnly(ctx context.Context, p rbac.Principal, permissionID string, r rbac.Resource) rbac.Decision
}

// GrantRequest targets one (user, permission, scope) override.
// ExpectedVersion is the version the caller last saw; 0 means "no
// override existed". Nil trusts the version read inside the call.
type GrantRequest struct {
	TargetUserID    string `json:"target_user_id" validate:"required,max=128"`
	PermissionID    string `json:"permission_id" validate:"required,max=128"`
	ScopeID         string `json:"scope_id,omitempty" validate:"max=128"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
}

// RoleRequest sets a user's role. Nil ScopeID/TenantID keep the stored
// values.
type RoleRequest struct {
	TargetUserID    string  `json:"target_user_id" validate:"required,max=128"`
	Role            string  `json:"role" validate:"required,max=32"`
	ScopeID         *string `json:"scope_id,omitempty" validate:"omitempty,max=128"`
	TenantID        *string `json:"tenant_id,omitempty" validate:"omitempty,max=128"`
	ExpectedVersion *int64  `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
}

// Outcome reports what a mutation did. Changed is false for no-ops.
type Outcome struct {
	Changed bool  `json:"changed"`
	Version int64 `json:"version"`
}

// Access is a user's stored authorization state.
type Access struct {
	UserID     string               `json:"user_id"`
	Assignment *rbac.RoleAssignment `json:"assignment"`
	Grants     []rbac.Grant         `json:"grants"`
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func mapStoreErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrAuditWrite):
		return err
	case errors.Is(err, grant.ErrVersionConflict), errors.Is(err, grant.ErrNotFound):
		// A row that vanished after the read is as stale as one that changed.
		return fmt.Errorf("%w: %s: %v", ErrConcurrentModification, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
