package patient

import (
	"encoding/json"
	"fmt"
	"strings"

	"clinica.app/internal/auth"
)

// Kind names one of the two disjoint patient identity spaces.
type Kind string

const (
	KindRegistered   Kind = "registered"
	KindUnregistered Kind = "unregistered"
)

// ParseKind accepts "registered", "unregistered" or "" (unknown).
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(strings.ToLower(raw))); k {
	case "", KindRegistered, KindUnregistered:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown patient kind %q", auth.ErrInvalidInput, raw)
}

// Ref is a classified patient reference: Registered(id) or Unregistered(id).
// It is produced once, where an id enters the system, so nothing downstream
// has to probe both tables again.
type Ref struct {
	kind Kind
	id   string
}

func Registered(id string) Ref   { return Ref{kind: KindRegistered, id: id} }
func Unregistered(id string) Ref { return Ref{kind: KindUnregistered, id: id} }

func (r Ref) Kind() Kind     { return r.kind }
func (r Ref) ID() string     { return r.id }
func (r Ref) IsZero() bool   { return r.id == "" }
func (r Ref) String() string { return string(r.kind) + ":" + r.id }

// Link returns the XOR column pair to persist on a clinical record.
func (r Ref) Link() Link {
	id := r.id
	switch r.kind {
	case KindRegistered:
		return Link{PatientID: &id}
	case KindUnregistered:
		return Link{UnregisteredPatientID: &id}
	}
	return Link{}
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind   `json:"kind"`
		ID   string `json:"id"`
	}{r.kind, r.id})
}

// Link is the (patient_id, unregistered_patient_id) column pair carried by
// every clinical record. Exactly one side is set.
type Link struct {
	PatientID             *string `json:"patient_id"`
	UnregisteredPatientID *string `json:"unregistered_patient_id"`
}

// Validate enforces that exactly one column is non-empty.
func (l Link) Validate() error {
	reg := l.PatientID != nil && strings.TrimSpace(*l.PatientID) != ""
	unreg := l.UnregisteredPatientID != nil && strings.TrimSpace(*l.UnregisteredPatientID) != ""
	switch {
	case reg && unreg:
		return fmt.Errorf("%w: patient_id and unregistered_patient_id are mutually exclusive", auth.ErrInvalidInput)
	case !reg && !unreg:
		return fmt.Errorf("%w: one of patient_id or unregistered_patient_id is required", auth.ErrInvalidInput)
	}
	return nil
}

// Ref converts a valid Link back into a Ref.
func (l Link) Ref() (Ref, error) {
	if err := l.Validate(); err != nil {
		return Ref{}, err
	}
	if l.PatientID != nil && strings.TrimSpace(*l.PatientID) != "" {
		return Registered(strings.TrimSpace(*l.PatientID)), nil
	}
	return Unregistered(strings.TrimSpace(*l.UnregisteredPatientID)), nil
}
