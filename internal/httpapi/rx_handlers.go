package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"caremesh.org/internal/auth"
	"caremesh.org/internal/rx"
)

type createPrescriptionRequest struct {
	PatientID      string `json:"patient_id"`
	PharmacyID     string `json:"pharmacy_id"`
	OrganizationID string `json:"organization_id"`
	Medication     string `json:"medication"`
	Quantity       int    `json:"quantity"`
	Refills        int    `json:"refills"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (a *API) handlePrescriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req createPrescriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	p, err := a.rx.Create(r.Context(), actor, rx.CreateInput{
		PatientID:      req.PatientID,
		PharmacyID:     req.PharmacyID,
		OrganizationID: req.OrganizationID,
		Medication:     req.Medication,
		Quantity:       req.Quantity,
		Refills:        req.Refills,
	})
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/prescriptions/%s", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handlePrescriptionScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/prescriptions/"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		a.handlePrescriptionGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		a.handlePrescriptionTransition(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		a.handlePrescriptionCancel(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
	}
}

func (a *API) handlePrescriptionGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	p, err := a.rx.Get(r.Context(), actor, id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePrescriptionTransition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	p, err := a.rx.Transition(r.Context(), actor, id, rx.Status(req.Status))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePrescriptionCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	p, err := a.rx.Cancel(r.Context(), actor, id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePatientScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/patients/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "prescriptions" {
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	list, err := a.rx.ListByPatient(r.Context(), actor, parts[0])
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if list == nil {
		list = []*rx.Prescription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": list})
}
