package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caremesh.org/internal/audit"
	"caremesh.org/internal/auth"
	"caremesh.org/internal/ids"
	"caremesh.org/internal/rx"
	"caremesh.org/internal/store/memory"
)

type testEnv struct {
	handler http.Handler
	store   *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	recorder := audit.NewRecorder(store)
	authSvc, err := auth.NewService(store, auth.WithAuditRecorder(recorder))
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	rxSvc, err := rx.NewService(store, authSvc, rx.WithAuditRecorder(recorder))
	if err != nil {
		t.Fatalf("rx.NewService: %v", err)
	}
	api := New(authSvc, rxSvc, Config{Version: "test"})
	return &testEnv{handler: api.Handler(), store: store}
}

func (e *testEnv) seedMember(t *testing.T, email string, role auth.Role, mutate func(*auth.Member)) *auth.Member {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	now := time.Now().UTC()
	m := &auth.Member{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       auth.MemberStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(m)
	}
	if err := e.store.Members().Create(context.Background(), m); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": "pw",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", email, rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.Code
}

func TestPublicSurfaceNeedsNoToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics"} {
		rr := env.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/prescriptions", "", map[string]string{})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != auth.CodeUnauthorized {
		t.Fatalf("expected code UNAUTHORIZED, got %q", got)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedMember(t, "doc@clinic.test", auth.RoleProvider, nil)

	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "doc@clinic.test", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rr.Code)
	}

	token := env.login(t, "doc@clinic.test")

	rr = env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/prescriptions", token, map[string]any{
		"patient_id": "p-1", "medication": "ibuprofen", "quantity": 10,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("after logout: expected 401, got %d", rr.Code)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	env := newTestEnv(t)
	env.seedMember(t, "pat@clinic.test", auth.RolePatient, nil)
	env.seedMember(t, "nurse@clinic.test", auth.RoleNurse, nil)
	patientToken := env.login(t, "pat@clinic.test")
	nurseToken := env.login(t, "nurse@clinic.test")

	// Authenticated but lacking ORG_MANAGE: FORBIDDEN, not UNAUTHORIZED.
	rr := env.do(t, http.MethodPost, "/v1/organizations", patientToken, map[string]string{"name": "Clinic"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got := errCode(t, rr); got != auth.CodeForbidden {
		t.Fatalf("expected code FORBIDDEN, got %q", got)
	}

	// Unknown resource behind a valid capability: NOT_FOUND.
	rr = env.do(t, http.MethodGet, "/v1/prescriptions/"+ids.New(), nurseToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got := errCode(t, rr); got != auth.CodeNotFound {
		t.Fatalf("expected code NOT_FOUND, got %q", got)
	}

	// Malformed body: INVALID_INPUT.
	req := httptest.NewRequest(http.MethodPost, "/v1/organizations", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+patientToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPrescriptionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	provider := env.seedMember(t, "doc@clinic.test", auth.RoleProvider, nil)
	env.seedMember(t, "pharm@clinic.test", auth.RolePharmacy, nil)
	docToken := env.login(t, "doc@clinic.test")
	pharmToken := env.login(t, "pharm@clinic.test")

	rr := env.do(t, http.MethodPost, "/v1/prescriptions", docToken, map[string]any{
		"patient_id": "patient-1", "medication": "amoxicillin 500mg", "quantity": 30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	var created rx.Prescription
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Status != rx.StatusDraft || created.ProviderID != provider.ID {
		t.Fatalf("unexpected prescription: %+v", created)
	}
	if rr.Header().Get("Location") == "" {
		t.Fatal("expected Location header")
	}

	// Author walks the prescription to the pharmacy handoff.
	for _, next := range []rx.Status{rx.StatusPendingReview, rx.StatusSigned, rx.StatusSent} {
		rr = env.do(t, http.MethodPost, fmt.Sprintf("/v1/prescriptions/%s/status", created.ID), docToken,
			map[string]string{"status": string(next)})
		if rr.Code != http.StatusOK {
			t.Fatalf("-> %s: expected 200, got %d (%s)", next, rr.Code, rr.Body.String())
		}
	}

	// Pharmacy picks it up.
	rr = env.do(t, http.MethodPost, fmt.Sprintf("/v1/prescriptions/%s/status", created.ID), pharmToken,
		map[string]string{"status": "filling"})
	if rr.Code != http.StatusOK {
		t.Fatalf("sent -> filling: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	// Replaying the move is rejected with the coded FORBIDDEN.
	rr = env.do(t, http.MethodPost, fmt.Sprintf("/v1/prescriptions/%s/status", created.ID), pharmToken,
		map[string]string{"status": "filling"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("replay: expected 403, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got := errCode(t, rr); got != auth.CodeForbidden {
		t.Fatalf("expected code FORBIDDEN, got %q", got)
	}

	// Patient listing their own history sees it.
	env.seedMember(t, "patient-1@clinic.test", auth.RolePatient, func(m *auth.Member) {
		m.ID = "patient-1"
	})
	patToken := env.login(t, "patient-1@clinic.test")
	rr = env.do(t, http.MethodGet, "/v1/patients/patient-1/prescriptions", patToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list own: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var listing struct {
		Prescriptions []*rx.Prescription `json:"prescriptions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Prescriptions) != 1 {
		t.Fatalf("expected 1 prescription, got %d", len(listing.Prescriptions))
	}

	// And cannot read someone else's.
	rr = env.do(t, http.MethodGet, "/v1/patients/patient-2/prescriptions", patToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("list other: expected 403, got %d", rr.Code)
	}
}

func TestAdminSurfaceOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedMember(t, "root@platform.test", auth.RoleAdmin, func(m *auth.Member) {
		m.IsPlatformOwner = true
	})
	rootToken := env.login(t, "root@platform.test")

	rr := env.do(t, http.MethodPost, "/v1/organizations", rootToken, map[string]string{"name": "North Clinic"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create org: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	var org auth.Organization
	if err := json.Unmarshal(rr.Body.Bytes(), &org); err != nil {
		t.Fatalf("decode org: %v", err)
	}

	rr = env.do(t, http.MethodPut, fmt.Sprintf("/v1/organizations/%s/overrides", org.ID), rootToken,
		map[string]any{"allow": []string{"RX_FULFILL"}, "deny": []string{"BILLING_MANAGE"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("org overrides: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/members", rootToken, map[string]string{
		"organization_id": org.ID, "email": "nurse@north.test", "password": "pw", "role": "nurse",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create member: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	var member auth.Member
	if err := json.Unmarshal(rr.Body.Bytes(), &member); err != nil {
		t.Fatalf("decode member: %v", err)
	}

	rr = env.do(t, http.MethodPut, fmt.Sprintf("/v1/members/%s/role", member.ID), rootToken,
		map[string]string{"role": "provider"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set role: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/v1/members/%s/disable", member.ID), rootToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	// The response never leaks the password hash.
	if bytes.Contains(rr.Body.Bytes(), []byte("password_hash")) {
		t.Fatal("password hash leaked in response")
	}
}
