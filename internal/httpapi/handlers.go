package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"caremesh.org/internal/auth"
	"caremesh.org/internal/obs"
	"caremesh.org/internal/rx"
)

// ReadyProbe reports readiness (DB ping when a database is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the HTTP-layer knobs.
type Config struct {
	Version            string
	Ready              ReadyProbe
	RateLimitBurst     int
	RateLimitPerSecond float64
	MaxBodyBytes       int64
}

// API is the HTTP layer over the auth and prescription services.
type API struct {
	mux     *http.ServeMux
	cfg     Config
	auth    *auth.Service
	rx      *rx.Service
	version string
}

func New(authSvc *auth.Service, rxSvc *rx.Service, cfg Config) *API {
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		auth:    authSvc,
		rx:      rxSvc,
		version: cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/members", a.handleMembers)
	a.mux.HandleFunc("/v1/members/", a.handleMemberScoped)

	a.mux.HandleFunc("/v1/prescriptions", a.handlePrescriptions)
	a.mux.HandleFunc("/v1/prescriptions/", a.handlePrescriptionScoped)
	a.mux.HandleFunc("/v1/patients/", a.handlePatientScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateLimitBurst, a.cfg.RateLimitPerSecond)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "caremesh-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "caremesh-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleCoreError maps the error taxonomy onto HTTP statuses. Every coded
// failure keeps its machine-readable code in the body.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch auth.CodeOf(err) {
	case auth.CodeUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, auth.CodeUnauthorized, err.Error())
	case auth.CodeForbidden:
		writeError(w, r, http.StatusForbidden, auth.CodeForbidden, err.Error())
	case auth.CodeNotFound:
		writeError(w, r, http.StatusNotFound, auth.CodeNotFound, err.Error())
	case auth.CodeInvalidInput:
		writeError(w, r, http.StatusBadRequest, auth.CodeInvalidInput, err.Error())
	case auth.CodeConflict:
		writeError(w, r, http.StatusConflict, auth.CodeConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func requireMember(w http.ResponseWriter, r *http.Request) (*auth.Member, bool) {
	member, ok := auth.MemberFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, auth.CodeUnauthorized, "authentication required")
		return nil, false
	}
	return member, true
}
