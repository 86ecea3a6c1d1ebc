package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promoterhub/promoterhub/internal/auth"
)

// ErrNoIdentity is returned when there is nothing to resolve.
var ErrNoIdentity = errors.New("no identity")

// Resolver derives the acting Principal from the session identity and the
// stored profile. It is the only place role precedence is decided:
//
//  1. A stored role row is authoritative, including its owned scope and tenant.
//  2. Without a row, the role and metadata role claims and the employer
//     heuristic (an employer_id implies employer) are candidates, and the
//     highest ranked valid candidate wins. Unknown claim values are ignored.
//  3. With no candidate the Principal has RoleNone and every evaluation
//     denies with ReasonNoRole unless an explicit grant applies.
type Resolver struct {
	roles  RoleReader
	logger *slog.Logger
}

// NewResolver creates a Resolver. roles may be nil, in which case only
// identity claims are used.
func NewResolver(roles RoleReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{roles: roles, logger: logger}
}

// Resolve builds one Principal for the current request.
func (r *Resolver) Resolve(ctx context.Context, identity *auth.Identity) (Principal, error) {
	if identity == nil || identity.UserID == "" {
		return Principal{}, ErrNoIdentity
	}

	p := Principal{
		UserID:       identity.UserID,
		OwnedScopeID: identity.EmployerID,
		TenantID:     identity.TenantID,
	}

	if r.roles != nil {
		stored, ok, err := r.roles.GetRole(ctx, identity.UserID)
		if err != nil {
			return Principal{}, fmt.Errorf("loading role for %s: %w", identity.UserID, err)
		}
		if ok && stored.Role.Valid() {
			p.Role = stored.Role
			if stored.ScopeID != "" {
				p.OwnedScopeID = stored.ScopeID
			}
			if stored.TenantID != "" {
				p.TenantID = stored.TenantID
			}
			return p, nil
		}
		if ok {
			r.logger.Error("stored role outside catalog", "user_id", identity.UserID, "role", string(stored.Role))
		}
	}

	p.Role = r.claimRole(identity)
	return p, nil
}

func (r *Resolver) claimRole(identity *auth.Identity) Role {
	best := RoleNone
	bestRank := -1
	consider := func(role Role) {
		rank, err := RoleRank(role)
		if err != nil {
			return
		}
		if rank > bestRank {
			best, bestRank = role, rank
		}
	}

	for _, raw := range []string{identity.Role, identity.MetadataRole} {
		if raw == "" {
			continue
		}
		role, err := ParseRole(raw)
		if err != nil {
			r.logger.Warn("ignoring unknown role claim", "user_id", identity.UserID, "role", raw)
			continue
		}
		consider(role)
	}
	if identity.EmployerID != "" {
		consider(RoleEmployer)
	}
	return best
}
