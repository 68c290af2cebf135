package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinica.app/internal/auth"
	"clinica.app/internal/guard"
	"clinica.app/internal/patient"
)

var clinicians = []auth.AppRole{
	auth.AppRoleDoctor, auth.AppRoleNurse, auth.AppRoleClinic, auth.AppRoleClinicAdmin,
}

func patientAccess(action auth.Action, extra ...auth.AppRole) guard.Requirement {
	roles := append(append([]auth.AppRole{}, clinicians...), extra...)
	return guard.Roles(roles...).OrCan(auth.ModulePatients, action)
}

type resolveResponse struct {
	Ref     patient.Ref  `json:"ref"`
	Link    patient.Link `json:"link"`
	Patient patient.View `json:"patient"`
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, patientAccess(auth.ActionView, auth.AppRolePatient))
	if !ok || !a.patientsReady(w, r) {
		return
	}
	v, err := a.patients.Get(r.Context(), id, chi.URLParam(r, "id"), r.URL.Query().Get("kind"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleResolvePatient pins the patient of a record about to be written and
// returns the column pair to store.
func (a *API) handleResolvePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, patientAccess(auth.ActionView))
	if !ok || !a.patientsReady(w, r) {
		return
	}
	var in patient.WriteRef
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ref, v, err := a.patients.ForWrite(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Ref: ref, Link: ref.Link(), Patient: v})
}

func (a *API) handleCreateUnregistered(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, patientAccess(auth.ActionCreate))
	if !ok || !a.patientsReady(w, r) {
		return
	}
	var in patient.PatientInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.patients.CreateUnregistered(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/patients/%s?kind=%s", v.ID, v.Kind))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := a.require(w, r, patientAccess(auth.ActionCreate, auth.AppRolePatient))
	if !ok || !a.patientsReady(w, r) {
		return
	}
	var in patient.PatientInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.patients.Register(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/patients/%s?kind=%s", v.ID, v.Kind))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) patientsReady(w http.ResponseWriter, r *http.Request) bool {
	if a.patients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "patient service unavailable")
		return false
	}
	return true
}
