package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinica.app/internal/audit"
	"clinica.app/internal/auth"
	"clinica.app/internal/tenant"
)

// WriteRef is how callers name the patient of a record they are about to
// write. A bare PatientID without Kind may belong to either space.
type WriteRef struct {
	PatientID             string `json:"patient_id"`
	UnregisteredPatientID string `json:"unregistered_patient_id"`
	Kind                  string `json:"kind"`
}

// PatientInput carries the demographic fields of both creation paths.
type PatientInput struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Identifier string `json:"identification"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	BirthDate  string `json:"birth_date"`
}

type Resolver struct {
	store Store
	audit audit.Recorder
	log   *zap.Logger
}

func NewResolver(store Store, rec audit.Recorder, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, audit: rec, log: log}
}

// Classify probes the registered table, then the unregistered one. Both
// outcomes cannot hold at once because identifiers are unique across spaces
// at creation time; Classify does not check it again.
func (r *Resolver) Classify(ctx context.Context, rawID string) (View, error) {
	id := strings.TrimSpace(rawID)
	if id == "" {
		return View{}, fmt.Errorf("%w: patient id is required", auth.ErrInvalidInput)
	}
	p, err := r.store.RegisteredByID(ctx, id)
	if err == nil {
		return NormalizeRegistered(p), nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return View{}, err
	}
	u, err := r.store.UnregisteredByID(ctx, id)
	if err == nil {
		return NormalizeUnregistered(u), nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return View{}, err
	}
	return View{}, fmt.Errorf("%w: patient %s", auth.ErrNotFound, id)
}

// Lookup loads an already classified reference without probing.
func (r *Resolver) Lookup(ctx context.Context, ref Ref) (View, error) {
	switch ref.Kind() {
	case KindRegistered:
		p, err := r.store.RegisteredByID(ctx, ref.ID())
		if err != nil {
			return View{}, err
		}
		return NormalizeRegistered(p), nil
	case KindUnregistered:
		u, err := r.store.UnregisteredByID(ctx, ref.ID())
		if err != nil {
			return View{}, err
		}
		return NormalizeUnregistered(u), nil
	}
	return View{}, fmt.Errorf("%w: unclassified patient reference", auth.ErrInvalidInput)
}

// Get resolves rawID, using kind when the caller knows it, and checks that
// actor may see the patient.
func (r *Resolver) Get(ctx context.Context, actor auth.Identity, rawID, kind string) (View, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return View{}, err
	}
	var v View
	if k == "" {
		v, err = r.Classify(ctx, rawID)
	} else {
		v, err = r.Lookup(ctx, Ref{kind: k, id: strings.TrimSpace(rawID)})
	}
	if err != nil {
		return View{}, err
	}
	if err := CheckAccess(actor, v); err != nil {
		return View{}, err
	}
	return v, nil
}

// ForWrite classifies the patient of a record about to be persisted. Any
// failure to pin down exactly one existing patient is reported as
// ErrAmbiguousOrUnknownPatient.
func (r *Resolver) ForWrite(ctx context.Context, actor auth.Identity, in WriteRef) (Ref, View, error) {
	regID := strings.TrimSpace(in.PatientID)
	unregID := strings.TrimSpace(in.UnregisteredPatientID)
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return Ref{}, View{}, err
	}
	if regID != "" && unregID != "" {
		return Ref{}, View{}, fmt.Errorf("%w: both patient_id and unregistered_patient_id given", ErrAmbiguousOrUnknownPatient)
	}

	var v View
	switch {
	case unregID != "":
		v, err = r.Lookup(ctx, Unregistered(unregID))
	case regID != "" && kind != "":
		v, err = r.Lookup(ctx, Ref{kind: kind, id: regID})
	case regID != "":
		v, err = r.Classify(ctx, regID)
	default:
		return Ref{}, View{}, fmt.Errorf("%w: no patient given", ErrAmbiguousOrUnknownPatient)
	}
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Ref{}, View{}, fmt.Errorf("%w: %v", ErrAmbiguousOrUnknownPatient, err)
		}
		return Ref{}, View{}, err
	}
	if err := CheckAccess(actor, v); err != nil {
		return Ref{}, View{}, err
	}
	return v.Ref(), v, nil
}

// CreateUnregistered records a walk-in patient for actor's organization.
func (r *Resolver) CreateUnregistered(ctx context.Context, actor auth.Identity, in PatientInput) (View, error) {
	fields, err := parseInput(in, false)
	if err != nil {
		return View{}, err
	}
	u := UnregisteredPatient{
		OrganizationID: actor.OrganizationID(),
		FirstName:      fields.FirstName,
		LastName:       fields.LastName,
		Identifier:     fields.Identifier,
		Email:          fields.Email,
		Phone:          fields.Phone,
		BirthDate:      fields.BirthDate,
	}
	if actor.Track == auth.TrackUser && actor.User != nil {
		u.CreatedByUserID = actor.User.ID
	}
	if u.OrganizationID == "" && u.CreatedByUserID == "" {
		return View{}, fmt.Errorf("%w: caller has no organization", auth.ErrForbidden)
	}
	created, err := r.store.CreateUnregistered(ctx, u)
	if err != nil {
		return View{}, err
	}
	v := NormalizeUnregistered(created)
	r.record(ctx, actor, v)
	return v, nil
}

// Register completes the registered profile of a patient user. Other
// callers may register a patient with no login attached.
func (r *Resolver) Register(ctx context.Context, actor auth.Identity, in PatientInput) (View, error) {
	fields, err := parseInput(in, true)
	if err != nil {
		return View{}, err
	}
	p := Patient{
		FirstName:  fields.FirstName,
		LastName:   fields.LastName,
		Identifier: fields.Identifier,
		Email:      fields.Email,
		Phone:      fields.Phone,
		BirthDate:  fields.BirthDate,
	}
	if actor.HasAnyRole(auth.AppRolePatient) {
		p.UserID = actor.User.ID
	}
	created, err := r.store.CreateRegistered(ctx, p)
	if err != nil {
		return View{}, err
	}
	v := NormalizeRegistered(created)
	r.record(ctx, actor, v)
	return v, nil
}

func (r *Resolver) record(ctx context.Context, actor auth.Identity, v View) {
	if r.audit == nil {
		return
	}
	entity := "patient"
	if v.Kind == KindUnregistered {
		entity = "unregistered_patient"
	}
	r.audit.Record(ctx, audit.For(actor, audit.ActionCreate, auth.ModulePatients).
		On(entity, v.ID).
		With(map[string]any{"identifier": v.Identifier}))
}

// CheckAccess applies tenant scope to a resolved patient. Unregistered
// patients belong to an organization or, for independent doctors, to their
// creator. Registered patients are visible to clinical staff of any
// organization but only to themselves among patient users.
func CheckAccess(actor auth.Identity, v View) error {
	if actor.IsZero() {
		return auth.ErrUnauthenticated
	}
	switch v.Kind {
	case KindRegistered:
		if actor.HasAnyRole(auth.AppRolePatient) && v.userID != actor.User.ID {
			return fmt.Errorf("%w: not your patient record", auth.ErrForbidden)
		}
		return nil
	case KindUnregistered:
		if v.OrganizationID != "" {
			return tenant.EnforceRecord(actor, v)
		}
		if v.createdBy != "" && actor.Track == auth.TrackUser && actor.ActorID() == v.createdBy {
			return nil
		}
		return fmt.Errorf("%w: patient belongs to another practice", auth.ErrForbidden)
	}
	return fmt.Errorf("%w: unclassified patient", auth.ErrForbidden)
}

type parsedInput struct {
	FirstName, LastName, Identifier, Email, Phone string
	BirthDate                                     *time.Time
}

func parseInput(in PatientInput, requireIdentifier bool) (parsedInput, error) {
	out := parsedInput{
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		Identifier: auth.NormalizeIdentifier(in.Identifier),
		Email:      auth.NormalizeEmail(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
	}
	if out.FirstName == "" || out.LastName == "" {
		return parsedInput{}, fmt.Errorf("%w: first and last name are required", auth.ErrInvalidInput)
	}
	if requireIdentifier && out.Identifier == "" {
		return parsedInput{}, fmt.Errorf("%w: identification is required", auth.ErrInvalidInput)
	}
	if raw := strings.TrimSpace(in.BirthDate); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return parsedInput{}, fmt.Errorf("%w: birth_date must be YYYY-MM-DD", auth.ErrInvalidInput)
		}
		out.BirthDate = &d
	}
	return out, nil
}
