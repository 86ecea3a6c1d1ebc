package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPermission indicates an id that is not in the catalog.
var ErrUnknownPermission = errors.New("unknown permission")

// QualifierOwn restricts a permission to resources owned by the principal.
const QualifierOwn = "own"

// Permission ids. Adding one requires a code change; ids are never read
// from data.
const (
	PermPromoterView      = "promoter:view"
	PermPromoterViewOwn   = "promoter:view:own"
	PermPromoterCreate    = "promoter:create"
	PermPromoterUpdate    = "promoter:update"
	PermPromoterUpdateOwn = "promoter:update:own"
	PermPromoterDelete    = "promoter:delete"
	PermPromoterExport    = "promoter:export"

	PermContractsView      = "contracts:view"
	PermContractsViewOwn   = "contracts:view:own"
	PermContractsCreate    = "contracts:create"
	PermContractsUpdate    = "contracts:update"
	PermContractsUpdateOwn = "contracts:update:own"
	PermContractsApprove   = "contracts:approve"
	PermContractsGenerate  = "contracts:generate"
	PermContractsDelete    = "contracts:delete"

	PermCompanyView   = "company:view"
	PermCompanyCreate = "company:create"
	PermCompanyUpdate = "company:update"
	PermCompanyDelete = "company:delete"

	PermUserView       = "user:view"
	PermUserInvite     = "user:invite"
	PermUserManageRole = "user:manage_role"

	PermAuditView = "audit:view"

	PermDashboardView = "dashboard:view"
	PermAnalyticsView = "analytics:view"

	PermSettingsView   = "settings:view"
	PermSettingsUpdate = "settings:update"
)

// Permission is a static catalog entry.
type Permission struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	Qualifier string `json:"qualifier,omitempty"`
	Category  string `json:"category"`
}

// Owned reports whether the permission carries the own qualifier.
func (p Permission) Owned() bool {
	return p.Qualifier == QualifierOwn
}

// ReadOnly reports whether the permission only reveals data. Cross-tenant
// denials on these are reported as "not found".
func (p Permission) ReadOnly() bool {
	return p.Action == "view" || p.Action == "export"
}

// Base returns the unqualified id of an own-qualified permission.
func (p Permission) Base() string {
	return p.Resource + ":" + p.Action
}

var catalog = []struct {
	id       string
	category string
}{
	{PermPromoterView, "Promoters"},
	{PermPromoterViewOwn, "Promoters"},
	{PermPromoterCreate, "Promoters"},
	{PermPromoterUpdate, "Promoters"},
	{PermPromoterUpdateOwn, "Promoters"},
	{PermPromoterDelete, "Promoters"},
	{PermPromoterExport, "Promoters"},
	{PermContractsView, "Contracts"},
	{PermContractsViewOwn, "Contracts"},
	{PermContractsCreate, "Contracts"},
	{PermContractsUpdate, "Contracts"},
	{PermContractsUpdateOwn, "Contracts"},
	{PermContractsApprove, "Contracts"},
	{PermContractsGenerate, "Contracts"},
	{PermContractsDelete, "Contracts"},
	{PermCompanyView, "Companies"},
	{PermCompanyCreate, "Companies"},
	{PermCompanyUpdate, "Companies"},
	{PermCompanyDelete, "Companies"},
	{PermUserView, "Users"},
	{PermUserInvite, "Users"},
	{PermUserManageRole, "Users"},
	{PermAuditView, "Audit"},
	{PermDashboardView, "Dashboard"},
	{PermAnalyticsView, "Dashboard"},
	{PermSettingsView, "System"},
	{PermSettingsUpdate, "System"},
}

var permissionIndex = buildPermissionIndex()

func buildPermissionIndex() map[string]Permission {
	index := make(map[string]Permission, len(catalog))
	for _, entry := range catalog {
		p, err := parsePermissionID(entry.id)
		if err != nil {
			panic(fmt.Sprintf("rbac: %v", err))
		}
		if _, dup := index[p.ID]; dup {
			panic(fmt.Sprintf("rbac: duplicate permission %s", p.ID))
		}
		p.Category = entry.category
		index[p.ID] = p
	}
	return index
}

func parsePermissionID(id string) (Permission, error) {
	parts := strings.Split(id, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("malformed permission id %q", id)
	}
	p := Permission{ID: id, Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		if parts[2] != QualifierOwn {
			return Permission{}, fmt.Errorf("permission %q: qualifier must be %q", id, QualifierOwn)
		}
		p.Qualifier = parts[2]
	}
	return p, nil
}

// LookupPermission returns the catalog entry for id.
func LookupPermission(id string) (Permission, error) {
	p, ok := permissionIndex[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: %q", ErrUnknownPermission, id)
	}
	return p, nil
}

// Permissions returns the catalog sorted by id.
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissionIndex))
	for _, p := range permissionIndex {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PermissionsByCategory groups the catalog for administration screens.
// It plays no part in evaluation.
func PermissionsByCategory() map[string][]Permission {
	out := make(map[string][]Permission)
	for _, p := range Permissions() {
		out[p.Category] = append(out[p.Category], p)
	}
	return out
}

// ownCounterpart returns the own-qualified id for an unqualified permission,
// if the catalog defines one.
func ownCounterpart(p Permission) (string, bool) {
	if p.Owned() {
		return "", false
	}
	id := p.ID + ":" + QualifierOwn
	_, ok := permissionIndex[id]
	return id, ok
}
