package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinica.app/internal/auth"
	"clinica.app/internal/identity"
)

const userColumns = `id, external_id, email, first_name, last_name, role, organization_id, is_active, created_at, updated_at`

// UserByExternalID loads the application user bound to an identity provider
// subject.
func (s *Store) UserByExternalID(ctx context.Context, externalID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where external_id = $1
	`, externalID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func scanUser(row scanner) (auth.User, error) {
	var (
		u    auth.User
		role string
		org  sql.NullString
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName, &role, &org, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	parsed, err := auth.ParseAppRole(role)
	if err != nil {
		// %v: a bad stored role is a data fault, not caller input.
		return auth.User{}, fmt.Errorf("user %s: %v", u.ID, err)
	}
	u.Role = parsed
	u.OrganizationID = org.String
	return u, nil
}

// AccountByEmail returns the local credential for email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (identity.Account, error) {
	if s.db == nil {
		return identity.Account{}, errNoDB
	}
	var acc identity.Account
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, created_at
		from auth_accounts
		where email = $1
	`, auth.NormalizeEmail(email)).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	return acc, nil
}

// CreateAccount stores a local credential.
func (s *Store) CreateAccount(ctx context.Context, acc identity.Account) (identity.Account, error) {
	if s.db == nil {
		return identity.Account{}, errNoDB
	}
	var out identity.Account
	err := s.db.QueryRowContext(ctx, `
		insert into auth_accounts (id, email, password_hash, created_at)
		values ($1, $2, $3, $4)
		returning id, email, password_hash, created_at
	`, acc.ID, auth.NormalizeEmail(acc.Email), acc.PasswordHash, acc.CreatedAt).Scan(&out.ID, &out.Email, &out.PasswordHash, &out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.Account{}, auth.ErrConflict
		}
		return identity.Account{}, err
	}
	return out, nil
}

// DeleteAccount removes a local credential. Missing ids are ignored.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `delete from auth_accounts where id = $1`, id)
	return err
}
