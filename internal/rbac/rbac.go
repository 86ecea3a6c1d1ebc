package rbac

import (
	"context"
	"time"
)

// Reason is the closed set of decision outcomes.
type Reason int

const (
	ReasonAllowed Reason = iota
	ReasonUnknownPermission
	ReasonNoRole
	ReasonCrossTenantAccess
	ReasonRoleDefaultDeny
	ReasonExplicitDeny
	ReasonStoreUnavailable
)

var reasonNames = map[Reason]string{
	ReasonAllowed:           "allowed",
	ReasonUnknownPermission: "unknown_permission",
	ReasonNoRole:            "no_role",
	ReasonCrossTenantAccess: "cross_tenant_access",
	ReasonRoleDefaultDeny:   "role_default_deny",
	ReasonExplicitDeny:      "explicit_deny",
	ReasonStoreUnavailable:  "store_unavailable",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the reason code in JSON bodies.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow() Decision { return Decision{Allowed: true, Reason: ReasonAllowed} }

func deny(reason Reason) Decision { return Decision{Allowed: false, Reason: reason} }

// PolicyEngine defines the authorization interface. Evaluate never fails:
// every problem resolves to a deny with a reason.
type PolicyEngine interface {
	Evaluate(ctx context.Context, principal Principal, permissionID string, resource Resource) Decision
}

// Grant is a persisted per-user override of one permission. An empty
// ScopeID means the grant applies in every scope.
type Grant struct {
	UserID       string    `json:"user_id"`
	PermissionID string    `json:"permission_id"`
	ScopeID      string    `json:"scope_id,omitempty"`
	Granted      bool      `json:"granted"`
	Version      int64     `json:"version"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleAssignment is a user's stored role. ScopeID is the tenant the user
// administers (employer/company id), TenantID the tenant they belong to.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	ScopeID   string    `json:"scope_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GrantReader is the read side of the grant store used by evaluation.
type GrantReader interface {
	GetGrants(ctx context.Context, userID string) ([]Grant, error)
}

// RoleReader is the read side of the grant store used by principal resolution.
// It returns ok=false when the user has no role row.
type RoleReader interface {
	GetRole(ctx context.Context, userID string) (assignment RoleAssignment, ok bool, err error)
}
