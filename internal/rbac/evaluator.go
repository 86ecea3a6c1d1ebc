package rbac

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// EvaluatorOption configures the Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the logger used for store failures and catalog violations.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithBatchConcurrency bounds the goroutines EvaluateAll uses per call.
func WithBatchConcurrency(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Evaluator is the decision function. It holds no mutable state, so one
// instance serves every request concurrently.
type Evaluator struct {
	grants      GrantReader // can be nil for role-only evaluation
	logger      *slog.Logger
	concurrency int
}

func NewEvaluator(grants GrantReader, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		grants:      grants,
		logger:      slog.Default(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether principal may perform permissionID on resource.
// Evaluation order, first match wins:
//
//  1. unknown permission -> deny
//  2. resource tenant outside the principal's tenants -> deny
//  3. explicit grant for the resource tenant, then unscoped -> grant decides
//  4. no role -> deny
//  5. own-qualified permission needs ownership plus the role default
//  6. role default, or the own-qualified counterpart on an owned resource
//
// The tenant check runs before the grant lookup because it overrides every
// other outcome; doing it first also saves the store read.
func (e *Evaluator) Evaluate(ctx context.Context, principal Principal, permissionID string, resource Resource) Decision {
	if m := memoFrom(ctx); m != nil {
		return m.do(principal, permissionID, resource, func() Decision {
			return e.evaluate(ctx, principal, permissionID, resource, true)
		})
	}
	return e.evaluate(ctx, principal, permissionID, resource, true)
}

// EvaluateRoleOnly is Evaluate with explicit grants ignored. Administration
// uses it when the actor is also the target so nobody approves their own
// change with a grant they hold.
func (e *Evaluator) EvaluateRoleOnly(ctx context.Context, principal Principal, permissionID string, resource Resource) Decision {
	return e.evaluate(ctx, principal, permissionID, resource, false)
}

// Check is one (permission, resource) pair for EvaluateAll.
type Check struct {
	Permission string   `json:"permission"`
	Resource   Resource `json:"resource"`
}

// EvaluateAll evaluates checks concurrently for one principal. Results are
// in input order.
func (e *Evaluator) EvaluateAll(ctx context.Context, principal Principal, checks []Check) []Decision {
	out := make([]Decision, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range checks {
		g.Go(func() error {
			out[i] = e.Evaluate(gctx, principal, c.Permission, c.Resource)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Evaluator) evaluate(ctx context.Context, p Principal, permissionID string, res Resource, useGrants bool) Decision {
	perm, ok := permissionIndex[permissionID]
	if !ok {
		return deny(ReasonUnknownPermission)
	}

	if !p.AuthorizedFor(res.TenantID) {
		return deny(ReasonCrossTenantAccess)
	}

	var grants []Grant
	if useGrants && e.grants != nil && p.UserID != "" {
		var err error
		grants, err = e.grants.GetGrants(ctx, p.UserID)
		if err != nil {
			e.logger.Error("grant lookup failed", "user_id", p.UserID, "permission", permissionID, "error", err)
			return deny(ReasonStoreUnavailable)
		}
	}

	// An own-qualified grant on someone else's resource is not satisfied;
	// evaluation continues with the role as if the grant were absent.
	if g, found := findGrant(grants, permissionID, res.TenantID); found && (!perm.Owned() || p.Owns(res)) {
		if !g.Granted {
			return deny(ReasonExplicitDeny)
		}
		return allow()
	}

	if p.Role == RoleNone {
		return deny(ReasonNoRole)
	}
	if !p.Role.Valid() {
		e.logger.Error("principal role outside catalog", "user_id", p.UserID, "role", string(p.Role))
		return deny(ReasonNoRole)
	}

	if perm.Owned() {
		if p.Owns(res) && (roleHolds(p.Role, perm.ID) || roleHolds(p.Role, perm.Base())) {
			return allow()
		}
		return deny(ReasonRoleDefaultDeny)
	}

	if roleHolds(p.Role, perm.ID) {
		return allow()
	}

	// Holding only the own-qualified form covers the caller's own resources,
	// never anyone else's.
	if ownID, ok := ownCounterpart(perm); ok && p.Owns(res) {
		if g, found := findGrant(grants, ownID, res.TenantID); found {
			if g.Granted {
				return allow()
			}
		} else if roleHolds(p.Role, ownID) {
			return allow()
		}
	}

	return deny(ReasonRoleDefaultDeny)
}

// findGrant prefers a grant scoped to tenantID over an unscoped one.
func findGrant(grants []Grant, permissionID, tenantID string) (Grant, bool) {
	var unscoped *Grant
	for i := range grants {
		g := &grants[i]
		if g.PermissionID != permissionID {
			continue
		}
		if tenantID != "" && g.ScopeID == tenantID {
			return *g, true
		}
		if g.ScopeID == "" && unscoped == nil {
			unscoped = g
		}
	}
	if unscoped != nil {
		return *unscoped, true
	}
	return Grant{}, false
}
