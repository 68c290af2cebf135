package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
	"clinica.app/internal/rbac"
)

const roleColumns = `id, organization_id, role_name, role_description, is_active, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, role auth.Role, perms []auth.Permission) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into roles (id, organization_id, role_name, role_description, is_active)
		values ($1, $2, $3, $4, true)
		returning `+roleColumns,
		ids.New(), role.OrganizationID, role.Name, nullIfEmpty(role.Description))
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.Role{}, fmt.Errorf("%w: role name already exists", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.Role{}, auth.ErrNotFound
			}
		}
		return auth.Role{}, err
	}
	stored, err := insertPermissions(ctx, tx, created.ID, perms)
	if err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	created.Permissions = stored
	return created, nil
}

// GetRole returns the role row without its permissions.
func (s *Store) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

func (s *Store) ListRoles(ctx context.Context, organizationID string, includeInactive bool) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + roleColumns + ` from roles where organization_id = $1`
	if !includeInactive {
		query += ` and is_active`
	}
	query += ` order by role_name`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateRole applies the non-nil fields of upd and, when present, replaces
// the permission matrix in the same transaction.
func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("role_name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("role_description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
	args = append(args, roleID)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Role{}, fmt.Errorf("%w: role name already exists", auth.ErrConflict)
		}
		return auth.Role{}, err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return auth.Role{}, err
	} else if aff == 0 {
		return auth.Role{}, auth.ErrNotFound
	}

	if upd.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return auth.Role{}, err
		}
		if _, err := insertPermissions(ctx, tx, roleID, *upd.Permissions); err != nil {
			return auth.Role{}, err
		}
	}
	role, err := scanRole(tx.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, roleID))
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := s.queryPermissions(ctx, tx, roleID)
	if err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// DeactivateRole marks the role and its role users inactive together.
func (s *Store) DeactivateRole(ctx context.Context, roleID string) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update roles set is_active = false, updated_at = now() where id = $1`, roleID)
	if err != nil {
		return 0, err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if aff == 0 {
		return 0, auth.ErrNotFound
	}
	res, err = tx.ExecContext(ctx, `
		update role_users set is_active = false, updated_at = now()
		where role_id = $1 and is_active
	`, roleID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListPermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, s.db, roleID)
}

// ReplacePermissions deletes every row of the role and inserts perms.
func (s *Store) ReplacePermissions(ctx context.Context, roleID string, perms []auth.Permission) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	if _, err := insertPermissions(ctx, tx, roleID, perms); err != nil {
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryPermissions skips rows naming a module this build does not know, so
// a stray row can never grant access.
func (s *Store) queryPermissions(ctx context.Context, q querier, roleID string) ([]auth.Permission, error) {
	rows, err := q.QueryContext(ctx, `
		select id, role_id, module, can_view, can_create, can_update, can_delete
		from role_permissions
		where role_id = $1
		order by module
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []auth.Permission{}
	for rows.Next() {
		var (
			p      auth.Permission
			module string
		)
		if err := rows.Scan(&p.ID, &p.RoleID, &module, &p.Permissions.View, &p.Permissions.Create, &p.Permissions.Update, &p.Permissions.Delete); err != nil {
			return nil, err
		}
		m, err := auth.ParseModule(module)
		if err != nil {
			s.log.Warn("skipping permission row with unknown module",
				zap.String("role_id", roleID),
				zap.String("module", module),
			)
			continue
		}
		p.Module = m
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func insertPermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []auth.Permission) ([]auth.Permission, error) {
	out := make([]auth.Permission, 0, len(perms))
	for _, p := range perms {
		p.ID = ids.New()
		p.RoleID = roleID
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (id, role_id, module, can_view, can_create, can_update, can_delete)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, p.ID, roleID, string(p.Module), p.Permissions.View, p.Permissions.Create, p.Permissions.Update, p.Permissions.Delete); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: duplicate module %s", auth.ErrInvalidInput, p.Module)
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanRole(row scanner) (auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	if err := row.Scan(&role.ID, &role.OrganizationID, &role.Name, &desc, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}
