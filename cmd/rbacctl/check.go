package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

type checkOptions struct {
	userID         string
	role           string
	ownedScope     string
	tenant         string
	permission     string
	resourceType   string
	owner          string
	resourceTenant string
	grants         []string
	revokes        []string
	asJSON         bool
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one decision against an in-memory grant store",
		Example: `  rbacctl check --role employee --permission promoter:update --owner cli-user
  rbacctl check --role hr --tenant t1 --permission contracts:view --resource-tenant t2
  rbacctl check --role employer --permission contracts:delete --grant contracts:delete@t1 --resource-tenant t1 --owned-scope t1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, decision, err := runCheck(cmd, opts)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"principal":  principal,
					"permission": opts.permission,
					"decision":   decision,
				})
			}
			verdict := "DENY"
			if decision.Allowed {
				verdict = "ALLOW"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verdict, opts.permission, decision.Reason)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.userID, "user", "cli-user", "Principal user id")
	f.StringVar(&opts.role, "role", "", "Principal role (empty for no role)")
	f.StringVar(&opts.ownedScope, "owned-scope", "", "Tenant the principal administers")
	f.StringVar(&opts.tenant, "tenant", "", "Tenant the principal belongs to")
	f.StringVar(&opts.permission, "permission", "", "Permission id to evaluate")
	f.StringVar(&opts.resourceType, "resource-type", "", "Resource type")
	f.StringVar(&opts.owner, "owner", "", "Resource owner user id")
	f.StringVar(&opts.resourceTenant, "resource-tenant", "", "Resource tenant")
	f.StringSliceVar(&opts.grants, "grant", nil, "Explicit grant, permission[@scope] (repeatable)")
	f.StringSliceVar(&opts.revokes, "revoke", nil, "Explicit revoke, permission[@scope] (repeatable)")
	f.BoolVar(&opts.asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("permission")

	return cmd
}

func runCheck(cmd *cobra.Command, opts checkOptions) (rbac.Principal, rbac.Decision, error) {
	ctx := cmd.Context()

	var role rbac.Role
	if opts.role != "" {
		r, err := rbac.ParseRole(opts.role)
		if err != nil {
			return rbac.Principal{}, rbac.Decision{}, err
		}
		role = r
	}

	store := grant.NewMemoryStore()
	write := func(raw string, granted bool) error {
		perm, scope := splitScoped(raw)
		if _, err := rbac.LookupPermission(perm); err != nil {
			return err
		}
		g := rbac.Grant{UserID: opts.userID, PermissionID: perm, ScopeID: scope, Granted: granted, UpdatedBy: "rbacctl"}
		if _, err := store.WriteGrant(ctx, g, grant.NoVersion, nil); err != nil {
			return fmt.Errorf("override %s: %w", raw, err)
		}
		return nil
	}
	for _, raw := range opts.grants {
		if err := write(raw, true); err != nil {
			return rbac.Principal{}, rbac.Decision{}, err
		}
	}
	for _, raw := range opts.revokes {
		if err := write(raw, false); err != nil {
			return rbac.Principal{}, rbac.Decision{}, err
		}
	}

	principal := rbac.Principal{
		UserID:       opts.userID,
		Role:         role,
		OwnedScopeID: opts.ownedScope,
		TenantID:     opts.tenant,
	}
	resource := rbac.Resource{Type: opts.resourceType, OwnerID: opts.owner, TenantID: opts.resourceTenant}
	return principal, rbac.NewEvaluator(store).Evaluate(ctx, principal, opts.permission, resource), nil
}
