package grant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

// DB is what PostgresStore needs from a pool.
type DB interface {
	database.Querier
	database.TxBeginner
}

// PostgresStore persists roles and grants in user_roles and
// permission_grants. Versions come from the grant_versions sequence.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) querier(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, s.db)
}

const grantColumns = "user_id, permission_id, scope_id, granted, version, updated_by, updated_at"

func scanGrant(row pgx.Row) (rbac.Grant, error) {
	var g rbac.Grant
	err := row.Scan(&g.UserID, &g.PermissionID, &g.ScopeID, &g.Granted, &g.Version, &g.UpdatedBy, &g.UpdatedAt)
	return g, err
}

// GetGrants returns every override for userID in one query.
func (s *PostgresStore) GetGrants(ctx context.Context, userID string) ([]rbac.Grant, error) {
	rows, err := s.querier(ctx).Query(ctx,
		`SELECT `+grantColumns+`
		 FROM permission_grants
		 WHERE user_id = $1
		 ORDER BY permission_id, scope_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var grants []rbac.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PostgresStore) GetGrant(ctx context.Context, userID, permissionID, scopeID string) (rbac.Grant, bool, error) {
	g, err := scanGrant(s.querier(ctx).QueryRow(ctx,
		`SELECT `+grantColumns+`
		 FROM permission_grants
		 WHERE user_id = $1 AND permission_id = $2 AND scope_id = $3`,
		userID, permissionID, scopeID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Grant{}, false, nil
	}
	if err != nil {
		return rbac.Grant{}, false, fmt.Errorf("getting grant: %w", err)
	}
	return g, true, nil
}

func (s *PostgresStore) GetRole(ctx context.Context, userID string) (rbac.RoleAssignment, bool, error) {
	var (
		a    rbac.RoleAssignment
		role string
	)
	err := s.querier(ctx).QueryRow(ctx,
		`SELECT user_id, role, scope_id, tenant_id, version, updated_by, updated_at
		 FROM user_roles WHERE user_id = $1`,
		userID,
	).Scan(&a.UserID, &role, &a.ScopeID, &a.TenantID, &a.Version, &a.UpdatedBy, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.RoleAssignment{}, false, nil
	}
	if err != nil {
		return rbac.RoleAssignment{}, false, fmt.Errorf("getting role: %w", err)
	}
	a.Role = rbac.Role(role)
	return a, true, nil
}

// WriteGrant inserts (expectedVersion == NoVersion) or conditionally
// updates the override, then runs hook in the same transaction.
func (s *PostgresStore) WriteGrant(ctx context.Context, g rbac.Grant, expectedVersion int64, hook CommitHook) (rbac.Grant, error) {
	var out rbac.Grant
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		var row pgx.Row
		if expectedVersion == NoVersion {
			row = tx.QueryRow(ctx,
				`INSERT INTO permission_grants (user_id, permission_id, scope_id, granted, updated_by)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (user_id, permission_id, scope_id) DO NOTHING
				 RETURNING `+grantColumns,
				g.UserID, g.PermissionID, g.ScopeID, g.Granted, g.UpdatedBy,
			)
		} else {
			row = tx.QueryRow(ctx,
				`UPDATE permission_grants
				 SET granted = $4, updated_by = $5, version = nextval('grant_versions'), updated_at = now()
				 WHERE user_id = $1 AND permission_id = $2 AND scope_id = $3 AND version = $6
				 RETURNING `+grantColumns,
				g.UserID, g.PermissionID, g.ScopeID, g.Granted, g.UpdatedBy, expectedVersion,
			)
		}

		var err error
		out, err = scanGrant(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("writing grant %s for %s: %w", g.PermissionID, g.UserID, ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("writing grant: %w", err)
		}
		return runHook(ctx, hook)
	})
	if err != nil {
		return rbac.Grant{}, err
	}
	return out, nil
}

// DeleteGrant removes the override if it still carries expectedVersion.
func (s *PostgresStore) DeleteGrant(ctx context.Context, userID, permissionID, scopeID string, expectedVersion int64, hook CommitHook) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM permission_grants
			 WHERE user_id = $1 AND permission_id = $2 AND scope_id = $3 AND version = $4`,
			userID, permissionID, scopeID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("deleting grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM permission_grants
				 WHERE user_id = $1 AND permission_id = $2 AND scope_id = $3)`,
				userID, permissionID, scopeID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("checking grant: %w", err)
			}
			if !exists {
				return fmt.Errorf("deleting grant %s for %s: %w", permissionID, userID, ErrNotFound)
			}
			return fmt.Errorf("deleting grant %s for %s: %w", permissionID, userID, ErrVersionConflict)
		}
		return runHook(ctx, hook)
	})
}

// WriteRole inserts or conditionally updates the user's role row.
func (s *PostgresStore) WriteRole(ctx context.Context, a rbac.RoleAssignment, expectedVersion int64, hook CommitHook) (rbac.RoleAssignment, error) {
	var out rbac.RoleAssignment
	err := database.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		var row pgx.Row
		if expectedVersion == NoVersion {
			row = tx.QueryRow(ctx,
				`INSERT INTO user_roles (user_id, role, scope_id, tenant_id, updated_by)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (user_id) DO NOTHING
				 RETURNING user_id, role, scope_id, tenant_id, version, updated_by, updated_at`,
				a.UserID, string(a.Role), a.ScopeID, a.TenantID, a.UpdatedBy,
			)
		} else {
			row = tx.QueryRow(ctx,
				`UPDATE user_roles
				 SET role = $2, scope_id = $3, tenant_id = $4, updated_by = $5,
				     version = nextval('grant_versions'), updated_at = now()
				 WHERE user_id = $1 AND version = $6
				 RETURNING user_id, role, scope_id, tenant_id, version, updated_by, updated_at`,
				a.UserID, string(a.Role), a.ScopeID, a.TenantID, a.UpdatedBy, expectedVersion,
			)
		}

		var role string
		err := row.Scan(&out.UserID, &role, &out.ScopeID, &out.TenantID, &out.Version, &out.UpdatedBy, &out.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("writing role for %s: %w", a.UserID, ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("writing role: %w", err)
		}
		out.Role = rbac.Role(role)
		return runHook(ctx, hook)
	})
	if err != nil {
		return rbac.RoleAssignment{}, err
	}
	return out, nil
}
