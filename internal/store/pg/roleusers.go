package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
	"clinica.app/internal/staff"
)

const roleUserColumns = `id, organization_id, role_id, first_name, last_name, identifier, email, external_id, is_active, last_access_at, created_at, updated_at`

// RoleUsersByIdentifier returns every role user holding identifier, across
// organizations.
func (s *Store) RoleUsersByIdentifier(ctx context.Context, identifier string) ([]auth.RoleUser, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoleUsers(ctx, `
		select `+roleUserColumns+`
		from role_users
		where identifier = $1
		order by created_at
	`, auth.NormalizeIdentifier(identifier))
}

func (s *Store) RoleUserByEmail(ctx context.Context, email string) (auth.RoleUser, error) {
	if s.db == nil {
		return auth.RoleUser{}, errNoDB
	}
	return s.roleUserRow(ctx, `select `+roleUserColumns+` from role_users where email = $1`, auth.NormalizeEmail(email))
}

func (s *Store) RoleUserByID(ctx context.Context, id string) (auth.RoleUser, error) {
	if s.db == nil {
		return auth.RoleUser{}, errNoDB
	}
	return s.roleUserRow(ctx, `select `+roleUserColumns+` from role_users where id = $1`, id)
}

func (s *Store) TouchLastAccess(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `update role_users set last_access_at = $1 where id = $2`, at, id)
	return err
}

func (s *Store) CreateRoleUser(ctx context.Context, ru auth.RoleUser) (auth.RoleUser, error) {
	if s.db == nil {
		return auth.RoleUser{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_users (id, organization_id, role_id, first_name, last_name, identifier, email, external_id, is_active)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+roleUserColumns,
		ids.New(), ru.OrganizationID, ru.RoleID, ru.FirstName, ru.LastName, ru.Identifier, ru.Email, ru.ExternalID, ru.Active)
	created, err := scanRoleUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.RoleUser{}, fmt.Errorf("%w: identifier or email already registered", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.RoleUser{}, auth.ErrNotFound
			}
		}
		return auth.RoleUser{}, err
	}
	return created, nil
}

func (s *Store) UpdateRoleUser(ctx context.Context, id string, upd staff.RoleUserUpdate) (auth.RoleUser, error) {
	if s.db == nil {
		return auth.RoleUser{}, errNoDB
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.RoleID != nil {
		set("role_id", *upd.RoleID)
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.Identifier != nil {
		set("identifier", *upd.Identifier)
	}
	if upd.Active != nil {
		set("is_active", *upd.Active)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update role_users set %s where id = $%d returning %s`,
		strings.Join(setClauses, ", "), idx, roleUserColumns)
	args = append(args, id)

	updated, err := scanRoleUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleUser{}, auth.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.RoleUser{}, fmt.Errorf("%w: identifier already registered", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.RoleUser{}, auth.ErrNotFound
			}
		}
		return auth.RoleUser{}, err
	}
	return updated, nil
}

func (s *Store) ListRoleUsers(ctx context.Context, organizationID string) ([]auth.RoleUser, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryRoleUsers(ctx, `
		select `+roleUserColumns+`
		from role_users
		where organization_id = $1
		order by last_name, first_name
	`, organizationID)
}

func (s *Store) roleUserRow(ctx context.Context, query string, arg any) (auth.RoleUser, error) {
	ru, err := scanRoleUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleUser{}, auth.ErrNotFound
	}
	return ru, err
}

func (s *Store) queryRoleUsers(ctx context.Context, query string, args ...any) ([]auth.RoleUser, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.RoleUser
	for rows.Next() {
		ru, err := scanRoleUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ru)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRoleUser(row scanner) (auth.RoleUser, error) {
	var (
		ru         auth.RoleUser
		lastAccess sql.NullTime
	)
	if err := row.Scan(&ru.ID, &ru.OrganizationID, &ru.RoleID, &ru.FirstName, &ru.LastName, &ru.Identifier,
		&ru.Email, &ru.ExternalID, &ru.Active, &lastAccess, &ru.CreatedAt, &ru.UpdatedAt); err != nil {
		return auth.RoleUser{}, err
	}
	ru.LastAccessAt = timePtr(lastAccess)
	return ru, nil
}
