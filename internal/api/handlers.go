package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/auth"
	"tarpaulin/internal/blob"
	"tarpaulin/internal/storage"
)

// LoginService exchanges a username and password for a bearer token.
type LoginService interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Handler bundles the HTTP endpoints with their dependencies.
type Handler struct {
	Store  storage.Repository
	Blob   blob.Store
	Guard  *auth.Guard
	IDP    LoginService
	Logger *slog.Logger
}

// NewHandler wires the API endpoints to the given backends.
func NewHandler(store storage.Repository, blobStore blob.Store, guard *auth.Guard, login LoginService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Blob: blobStore, Guard: guard, IDP: login, Logger: logger}
}

// Health reports readiness of the datastore.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.writeError(w, r, apierr.Wrap(err, apierr.CodeInternal, "datastore unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.Status(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": apierr.Message(err)})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.InvalidRequest("request body is not valid JSON")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

// requestScheme mirrors the scheme the client used, honouring proxies
// that set X-Forwarded-Proto.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func absoluteURL(r *http.Request, path string) string {
	return fmt.Sprintf("%s://%s%s", requestScheme(r), r.Host, path)
}
