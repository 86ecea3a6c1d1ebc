package rbac

// Principal is the resolved identity for one evaluation. Build it per
// request; role and grants can change between requests.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	// OwnedScopeID is the tenant the principal administers, if any.
	OwnedScopeID string `json:"owned_scope_id,omitempty"`
	// TenantID is the tenant the principal belongs to, if any.
	TenantID string `json:"tenant_id,omitempty"`
}

// Resource identifies the instance an action targets. It is supplied per
// call and never stored.
type Resource struct {
	Type     string `json:"type"`
	OwnerID  string `json:"owner_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// AuthorizedFor reports whether the principal may touch data in tenantID.
// An empty tenantID is not tenant-scoped.
func (p Principal) AuthorizedFor(tenantID string) bool {
	if tenantID == "" {
		return true
	}
	if IsAdminRank(p.Role) {
		return true
	}
	return (p.OwnedScopeID != "" && p.OwnedScopeID == tenantID) ||
		(p.TenantID != "" && p.TenantID == tenantID)
}

// Owns reports whether the resource belongs to the principal.
func (p Principal) Owns(r Resource) bool {
	return p.UserID != "" && r.OwnerID == p.UserID
}
