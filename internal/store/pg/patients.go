package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
	"clinica.app/internal/patient"
)

const (
	patientColumns      = `id, user_id, first_name, last_name, identifier, email, phone, birth_date, created_at`
	unregisteredColumns = `id, organization_id, created_by_user_id, first_name, last_name, identification, email, phone, birth_date, created_at`
)

func (s *Store) RegisteredByID(ctx context.Context, id string) (patient.Patient, error) {
	if s.db == nil {
		return patient.Patient{}, errNoDB
	}
	p, err := scanPatient(s.db.QueryRowContext(ctx, `select `+patientColumns+` from patients where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return patient.Patient{}, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) UnregisteredByID(ctx context.Context, id string) (patient.UnregisteredPatient, error) {
	if s.db == nil {
		return patient.UnregisteredPatient{}, errNoDB
	}
	u, err := scanUnregistered(s.db.QueryRowContext(ctx, `select `+unregisteredColumns+` from unregistered_patients where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return patient.UnregisteredPatient{}, auth.ErrNotFound
	}
	return u, err
}

// CreateRegistered inserts p after claiming its identifier.
func (s *Store) CreateRegistered(ctx context.Context, p patient.Patient) (patient.Patient, error) {
	if s.db == nil {
		return patient.Patient{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return patient.Patient{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := ids.New()
	row := tx.QueryRowContext(ctx, `
		insert into patients (id, user_id, first_name, last_name, identifier, email, phone, birth_date)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+patientColumns,
		id, nullIfEmpty(p.UserID), p.FirstName, p.LastName, nullIfEmpty(p.Identifier), nullIfEmpty(p.Email), nullIfEmpty(p.Phone), nullTime(p.BirthDate))
	created, err := scanPatient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return patient.Patient{}, fmt.Errorf("%w: user already has a patient profile", auth.ErrConflict)
		}
		return patient.Patient{}, err
	}
	if err := claimIdentifier(ctx, tx, p.Identifier, patient.Registered(id)); err != nil {
		return patient.Patient{}, err
	}
	if err := tx.Commit(); err != nil {
		return patient.Patient{}, err
	}
	return created, nil
}

// CreateUnregistered inserts u after claiming its identifier, if any.
func (s *Store) CreateUnregistered(ctx context.Context, u patient.UnregisteredPatient) (patient.UnregisteredPatient, error) {
	if s.db == nil {
		return patient.UnregisteredPatient{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return patient.UnregisteredPatient{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := ids.New()
	row := tx.QueryRowContext(ctx, `
		insert into unregistered_patients (id, organization_id, created_by_user_id, first_name, last_name, identification, email, phone, birth_date)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+unregisteredColumns,
		id, nullIfEmpty(u.OrganizationID), nullIfEmpty(u.CreatedByUserID), u.FirstName, u.LastName,
		nullIfEmpty(u.Identifier), nullIfEmpty(u.Email), nullIfEmpty(u.Phone), nullTime(u.BirthDate))
	created, err := scanUnregistered(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return patient.UnregisteredPatient{}, auth.ErrNotFound
		}
		return patient.UnregisteredPatient{}, err
	}
	if err := claimIdentifier(ctx, tx, u.Identifier, patient.Unregistered(id)); err != nil {
		return patient.UnregisteredPatient{}, err
	}
	if err := tx.Commit(); err != nil {
		return patient.UnregisteredPatient{}, err
	}
	return created, nil
}

// claimIdentifier records identifier in the table shared by both patient
// spaces. A taken identifier returns *patient.DuplicateIdentifierError
// naming the holder.
func claimIdentifier(ctx context.Context, tx *sql.Tx, identifier string, ref patient.Ref) error {
	if identifier == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		insert into patient_identifiers (identifier, patient_kind, patient_id)
		values ($1, $2, $3)
		on conflict (identifier) do nothing
	`, identifier, string(ref.Kind()), ref.ID())
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 1 {
		return nil
	}
	var kind, existingID string
	if err := tx.QueryRowContext(ctx, `
		select patient_kind, patient_id from patient_identifiers where identifier = $1
	`, identifier).Scan(&kind, &existingID); err != nil {
		return err
	}
	existing := patient.Registered(existingID)
	if patient.Kind(kind) == patient.KindUnregistered {
		existing = patient.Unregistered(existingID)
	}
	return &patient.DuplicateIdentifierError{Identifier: identifier, Existing: existing}
}

func scanPatient(row scanner) (patient.Patient, error) {
	var (
		p                           patient.Patient
		userID, ident, email, phone sql.NullString
		birth                       sql.NullTime
	)
	if err := row.Scan(&p.ID, &userID, &p.FirstName, &p.LastName, &ident, &email, &phone, &birth, &p.CreatedAt); err != nil {
		return patient.Patient{}, err
	}
	p.UserID = userID.String
	p.Identifier = ident.String
	p.Email = email.String
	p.Phone = phone.String
	p.BirthDate = timePtr(birth)
	return p, nil
}

func scanUnregistered(row scanner) (patient.UnregisteredPatient, error) {
	var (
		u                                 patient.UnregisteredPatient
		org, creator, ident, email, phone sql.NullString
		birth                             sql.NullTime
	)
	if err := row.Scan(&u.ID, &org, &creator, &u.FirstName, &u.LastName, &ident, &email, &phone, &birth, &u.CreatedAt); err != nil {
		return patient.UnregisteredPatient{}, err
	}
	u.OrganizationID = org.String
	u.CreatedByUserID = creator.String
	u.Identifier = ident.String
	u.Email = email.String
	u.Phone = phone.String
	u.BirthDate = timePtr(birth)
	return u, nil
}
