// Package patient resolves patient references across the registered and
// unregistered (walk-in) identity spaces.
package patient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAmbiguousOrUnknownPatient = errors.New("patient: ambiguous or unknown patient")
	ErrDuplicateIdentifier       = errors.New("patient: identifier already registered")
)

// DuplicateIdentifierError reports the record already holding an identifier,
// in either identity space, so callers can redirect to it.
type DuplicateIdentifierError struct {
	Identifier string
	Existing   Ref
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("patient: identifier %s already registered as %s patient %s",
		e.Identifier, e.Existing.Kind(), e.Existing.ID())
}

func (e *DuplicateIdentifierError) Is(target error) bool {
	return target == ErrDuplicateIdentifier
}

// Patient is a registered patient: a profile completed by a patient user.
// Registered patients are not owned by any organization.
type Patient struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id,omitempty"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Identifier string     `json:"identifier,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UnregisteredPatient is a walk-in created by staff or a doctor. It belongs
// to the creator's organization, or to the creating user when independent.
type UnregisteredPatient struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	CreatedByUserID string     `json:"created_by_user_id,omitempty"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Identifier      string     `json:"identification,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// View is the shape every consumer renders, whatever table the patient
// came from.
type View struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Identifier     string     `json:"identifier,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	BirthDate      *time.Time `json:"birthDate,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`

	userID    string
	createdBy string
}

func (v View) ScopeOrganizationID() string { return v.OrganizationID }

// Ref returns the classified reference of v.
func (v View) Ref() Ref {
	if v.Kind == KindUnregistered {
		return Unregistered(v.ID)
	}
	return Registered(v.ID)
}

func NormalizeRegistered(p Patient) View {
	return View{
		ID:         p.ID,
		Kind:       KindRegistered,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Identifier: p.Identifier,
		Email:      p.Email,
		Phone:      p.Phone,
		BirthDate:  p.BirthDate,
		userID:     p.UserID,
	}
}

func NormalizeUnregistered(u UnregisteredPatient) View {
	return View{
		ID:             u.ID,
		Kind:           KindUnregistered,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Identifier:     u.Identifier,
		Email:          u.Email,
		Phone:          u.Phone,
		BirthDate:      u.BirthDate,
		OrganizationID: u.OrganizationID,
		createdBy:      u.CreatedByUserID,
	}
}

// Store reads and creates patients. Create methods claim the identifier in
// a table shared by both spaces and return *DuplicateIdentifierError when it
// is taken. Missing ids surface as auth.ErrNotFound.
type Store interface {
	RegisteredByID(ctx context.Context, id string) (Patient, error)
	UnregisteredByID(ctx context.Context, id string) (UnregisteredPatient, error)
	CreateRegistered(ctx context.Context, p Patient) (Patient, error)
	CreateUnregistered(ctx context.Context, u UnregisteredPatient) (UnregisteredPatient, error)
}
