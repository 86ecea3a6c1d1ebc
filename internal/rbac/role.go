package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is matched by every *UnknownRoleError.
var ErrUnknownRole = errors.New("unknown role")

// UnknownRoleError reports a role name outside the catalog. A validated
// Principal never carries one, so seeing this is a programming error.
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q", e.Name)
}

func (e *UnknownRoleError) Is(target error) bool {
	return target == ErrUnknownRole
}

// Role is a catalog role name. The zero value means "no role".
type Role string

const (
	RoleNone     Role = ""
	RoleViewer   Role = "viewer"
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleEmployer Role = "employer"
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
)

// AdminRank is the lowest rank that is authorized for every tenant.
const AdminRank = 4

type roleDef struct {
	role     Role
	rank     int
	defaults []string
}

// Ranks are unique so that seniority is a total order.
var roleDefs = []roleDef{
	{role: RoleViewer, rank: 0, defaults: []string{
		PermDashboardView,
		PermPromoterViewOwn,
		PermContractsViewOwn,
	}},
	{role: RoleEmployee, rank: 1, defaults: []string{
		PermPromoterUpdateOwn,
		PermContractsUpdateOwn,
		PermSettingsView,
	}},
	{role: RoleHR, rank: 2, defaults: []string{
		PermPromoterView,
		PermPromoterCreate,
		PermPromoterUpdate,
		PermContractsView,
		PermContractsCreate,
		PermUserView,
	}},
	{role: RoleEmployer, rank: 3, defaults: []string{
		PermPromoterExport,
		PermContractsUpdate,
		PermContractsApprove,
		PermContractsGenerate,
		PermCompanyView,
		PermCompanyUpdate,
		PermUserInvite,
		PermAnalyticsView,
	}},
	{role: RoleAdmin, rank: AdminRank, defaults: []string{
		PermPromoterDelete,
		PermContractsDelete,
		PermCompanyCreate,
		PermCompanyDelete,
		PermUserManageRole,
		PermAuditView,
	}},
	{role: RoleOwner, rank: 5, defaults: []string{
		PermSettingsUpdate,
	}},
}

// Boundary names used by older clients and identity claims.
var roleAliases = map[string]Role{
	"member":  RoleEmployee,
	"manager": RoleEmployer,
}

var (
	roleRanks    = make(map[Role]int, len(roleDefs))
	roleDefaults = make(map[Role]map[string]struct{}, len(roleDefs))
)

func init() {
	// Defaults are cumulative: each role holds everything below it.
	inherited := map[string]struct{}{}
	for _, d := range roleDefs {
		for _, id := range d.defaults {
			if _, ok := permissionIndex[id]; !ok {
				panic(fmt.Sprintf("rbac: role %s references unknown permission %s", d.role, id))
			}
			inherited[id] = struct{}{}
		}
		set := make(map[string]struct{}, len(inherited))
		for id := range inherited {
			set[id] = struct{}{}
		}
		roleRanks[d.role] = d.rank
		roleDefaults[d.role] = set
	}
}

// ParseRole normalizes a raw role name (case, whitespace, aliases) and
// validates it against the catalog.
func ParseRole(raw string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := roleAliases[name]; ok {
		return alias, nil
	}
	r := Role(name)
	if _, ok := roleRanks[r]; !ok {
		return RoleNone, &UnknownRoleError{Name: raw}
	}
	return r, nil
}

// Valid reports whether r is a catalog role.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// RoleRank returns the seniority of r.
func RoleRank(r Role) (int, error) {
	rank, ok := roleRanks[r]
	if !ok {
		return 0, &UnknownRoleError{Name: string(r)}
	}
	return rank, nil
}

// RoleDefaultPermissions returns a copy of the permission ids r holds by default.
func RoleDefaultPermissions(r Role) (map[string]struct{}, error) {
	set, ok := roleDefaults[r]
	if !ok {
		return nil, &UnknownRoleError{Name: string(r)}
	}
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out, nil
}

func roleHolds(r Role, permissionID string) bool {
	_, ok := roleDefaults[r][permissionID]
	return ok
}

// HoldsByDefault reports whether r's defaults cover permissionID. An
// own-qualified id is also covered by its unqualified form.
func HoldsByDefault(r Role, permissionID string) bool {
	if roleHolds(r, permissionID) {
		return true
	}
	if p, ok := permissionIndex[permissionID]; ok && p.Owned() {
		return roleHolds(r, p.Base())
	}
	return false
}

// IsAdminRank reports whether r is authorized across all tenants.
func IsAdminRank(r Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= AdminRank
}

// IsAtLeastAsSeniorAs reports rank(a) >= rank(b). Unknown roles are never senior.
func IsAtLeastAsSeniorAs(a, b Role) bool {
	ra, okA := roleRanks[a]
	rb, okB := roleRanks[b]
	return okA && okB && ra >= rb
}

// Roles lists the catalog in ascending rank.
func Roles() []Role {
	out := make([]Role, 0, len(roleDefs))
	for _, d := range roleDefs {
		out = append(out, d.role)
	}
	return out
}

// MutationClass distinguishes seniority rules for user management.
type MutationClass int

const (
	// ClassRead covers inspecting another user's role and grants.
	ClassRead MutationClass = iota
	// ClassChange covers grants and role changes that do not lower the target.
	ClassChange
	// ClassDemotion covers revocations and role changes that lower the target.
	ClassDemotion
)

// CanManage applies the seniority rule for an actor acting on a target.
// Read and change actions need rank(actor) >= rank(target); demotion-class
// actions additionally require a different (so strictly more senior) role.
func CanManage(actor, target Role, class MutationClass) bool {
	if target == RoleNone {
		// A user without a role row ranks below every catalog role.
		return actor.Valid()
	}
	if !IsAtLeastAsSeniorAs(actor, target) {
		return false
	}
	if class == ClassDemotion && actor == target {
		return false
	}
	return true
}
