package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"caremesh.org/internal/auth"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type overridesRequest struct {
	Allow []auth.Capability `json:"allow"`
	Deny  []auth.Capability `json:"deny"`
}

type createMemberRequest struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type setPlatformOwnerRequest struct {
	IsPlatformOwner bool `json:"is_platform_owner"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	org, err := a.auth.CreateOrganization(r.Context(), actor, req.Name)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
		return
	}
	orgID := parts[0]
	switch parts[1] {
	case "overrides":
		a.handleOrganizationOverrides(w, r, orgID)
	case "members":
		a.handleOrganizationMembers(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationMembers(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	members, err := a.auth.ListOrgMembers(r.Context(), actor, orgID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if members == nil {
		members = []*auth.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleOrganizationOverrides(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req overridesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	org, err := a.auth.SetOrganizationOverrides(r.Context(), actor, orgID, req.Allow, req.Deny)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req createMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	member, err := a.auth.CreateMember(r.Context(), actor, auth.NewMemberInput{
		OrganizationID: req.OrganizationID,
		Email:          req.Email,
		Password:       req.Password,
		Role:           auth.Role(req.Role),
	})
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/members/%s", member.ID))
	writeJSON(w, http.StatusCreated, member)
}

func (a *API) handleMemberScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/members/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
		return
	}
	memberID := parts[0]
	switch parts[1] {
	case "role":
		a.handleMemberRole(w, r, memberID)
	case "overrides":
		a.handleMemberOverrides(w, r, memberID)
	case "platform-owner":
		a.handleMemberPlatformOwner(w, r, memberID)
	case "disable":
		a.handleMemberDisable(w, r, memberID)
	default:
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
	}
}

func (a *API) handleMemberRole(w http.ResponseWriter, r *http.Request, memberID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	member, err := a.auth.SetMemberRole(r.Context(), actor, memberID, auth.Role(req.Role))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) handleMemberOverrides(w http.ResponseWriter, r *http.Request, memberID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req overridesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	member, err := a.auth.SetMemberOverrides(r.Context(), actor, memberID, req.Allow, req.Deny)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) handleMemberPlatformOwner(w http.ResponseWriter, r *http.Request, memberID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req setPlatformOwnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
		return
	}
	member, err := a.auth.SetPlatformOwner(r.Context(), actor, memberID, req.IsPlatformOwner)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) handleMemberDisable(w http.ResponseWriter, r *http.Request, memberID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireMember(w, r)
	if !ok {
		return
	}
	member, err := a.auth.DisableMember(r.Context(), actor, memberID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}
