package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/middleware"
	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/plugins/auth"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app *App
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// audit writes an audit entry. Failures are logged, never surfaced.
func (h *handlers) audit(r *http.Request, actor, action, details string) {
	if h.app.DB == nil {
		return
	}
	if err := h.app.DB.LogAudit(r.Context(), actor, action, details); err != nil {
		middleware.Logger(r.Context()).Warn("failed to write audit log", "action", action, "error", err)
	}
}

func (h *handlers) credentials() auth.Credentials {
	return auth.Credentials{
		SessionCookie: h.app.Config.SessionCookie,
		APIKeyHeader:  h.app.Config.APIKeyHeader,
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]any)

	if h.app.DB != nil {
		if err := h.app.DB.Ping(r.Context()); err != nil {
			ready = false
			checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			checks["database"] = map[string]string{"status": "healthy"}
		}
	}

	if h.app.Registry != nil {
		statuses := h.app.Registry.HealthCheck(r.Context())
		for _, s := range statuses {
			if !s.Healthy {
				ready = false
			}
		}
		checks["plugins"] = statuses
	}

	if h.app.Secrets != nil {
		state := "healthy"
		if !h.app.Secrets.Healthy(r.Context()) {
			ready = false
			state = "unhealthy"
		}
		checks["secrets"] = map[string]string{"status": state, "provider": h.app.Secrets.ProviderName()}
	}

	status := http.StatusOK
	checks["status"] = "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		checks["status"] = "not_ready"
	}
	writeJSON(w, status, checks)
}

// --- Auth endpoints (local provider) ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func (h *handlers) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if !h.app.Config.AllowSignUp {
		http.Error(w, "Sign-up is disabled", http.StatusForbidden)
		return
	}

	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.app.Identity.SignUp(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, identity.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		middleware.Logger(r.Context()).Error("sign-up failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.audit(r, user.ID, db.AuditSignUp, "User signed up")
	writeJSON(w, http.StatusCreated, user)
}

func (h *handlers) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	ctx := identity.WithClientInfo(r.Context(), clientIP(r), r.UserAgent())
	token, result, err := h.app.Identity.SignIn(ctx, req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		middleware.Logger(r.Context()).Error("sign-in failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.audit(r, result.User.ID, db.AuditSignIn, "User signed in")

	http.SetCookie(w, &http.Cookie{
		Name:     h.app.Config.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Expires:  result.Session.ExpiresAt,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"session": result.Session,
		"user":    result.User,
	})
}

func (h *handlers) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := h.credentials().SessionToken(r); token != "" {
		var actor string
		if result, err := h.app.Identity.GetSession(r.Context(), token); err == nil {
			actor = result.User.ID
		}
		err := h.app.Identity.SignOut(r.Context(), token)
		switch {
		case err == nil:
			h.audit(r, actor, db.AuditSignOut, "User signed out")
		case errors.Is(err, identity.ErrSessionNotFound):
		default:
			middleware.Logger(r.Context()).Error("sign-out failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.app.Config.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.GetSession(r.Context()))
}

// --- Profile endpoints ---

func (h *handlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	profile, err := h.app.Profiles.EnsureProfile(r.Context(), session.User.ID)
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to load profile", "user_id", session.User.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handlers) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	var req struct {
		Preferences map[string]any `json:"preferences"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Preferences == nil {
		http.Error(w, "preferences is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	logger := middleware.Logger(ctx).With("user_id", session.User.ID)
	if _, err := h.app.Profiles.EnsureProfile(ctx, session.User.ID); err != nil {
		logger.Error("failed to load profile", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.app.Profiles.UpdatePreferences(ctx, session.User.ID, req.Preferences); err != nil {
		logger.Error("failed to update preferences", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	profile, err := h.app.Profiles.GetProfile(ctx, session.User.ID)
	if err != nil || profile == nil {
		logger.Error("failed to reload profile", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- API key management (local provider) ---

func (h *handlers) handleListKeys(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	keys, err := h.app.Identity.ListAPIKeys(r.Context(), session.User.ID)
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to list api keys", "user_id", session.User.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

type createKeyRequest struct {
	Name        string               `json:"name"`
	Permissions []plugins.Permission `json:"permissions"`
	ExpiresIn   string               `json:"expiresIn,omitempty"`
}

func (h *handlers) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	for _, p := range req.Permissions {
		if !p.Valid() {
			http.Error(w, fmt.Sprintf("unknown permission: %q", p), http.StatusBadRequest)
			return
		}
	}
	var expiresIn time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			http.Error(w, "expiresIn must be a positive duration", http.StatusBadRequest)
			return
		}
		expiresIn = d
	}

	created, err := h.app.Identity.CreateAPIKey(r.Context(), session.User.ID, req.Name,
		auth.NativePermissions(req.Permissions...), expiresIn)
	if errors.Is(err, identity.ErrUserNotFound) {
		http.Error(w, "API keys require a local account", http.StatusForbidden)
		return
	}
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to create api key", "user_id", session.User.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.audit(r, session.User.ID, db.AuditAPIKeyCreated, fmt.Sprintf("key=%s name=%s", created.ID, created.Name))
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	keyID := chi.URLParam(r, "id")

	err := h.app.Identity.RevokeAPIKey(r.Context(), session.User.ID, keyID)
	if errors.Is(err, identity.ErrKeyNotFound) {
		http.Error(w, "API key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to revoke api key", "key_id", keyID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.audit(r, session.User.ID, db.AuditAPIKeyRevoked, "key="+keyID)
	w.WriteHeader(http.StatusNoContent)
}

// --- Programmatic routes ---

func (h *handlers) handleWhoami(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if !id.Authenticated() {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": id.Session,
		"apiKey":  id.APIKey,
	})
}

// contentItem is the stand-in document the content routes accept.
type contentItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleListContent also reports the session user when the caller sent one
// alongside the key.
func (h *handlers) handleListContent(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  []contentItem{},
		"keyId":  id.APIKey.KeyID,
		"userId": id.UserID(),
	})
}

func (h *handlers) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())

	var item contentItem
	if !decodeJSON(w, r, &item) {
		return
	}
	if strings.TrimSpace(item.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	item.ID = uuid.NewString()
	item.CreatedBy = key.KeyID
	item.CreatedAt = time.Now().UTC()

	h.audit(r, "key:"+key.KeyID, db.AuditContentCreated, "content="+item.ID)
	writeJSON(w, http.StatusCreated, item)
}

// --- Admin endpoints ---

func (h *handlers) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.app.Profiles.ListProfiles(r.Context())
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to list profiles", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []*plugins.UserProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *handlers) handleSetRole(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetSession(r.Context())
	userID := chi.URLParam(r, "userID")

	var req struct {
		Role plugins.Role `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Role.Valid() {
		http.Error(w, fmt.Sprintf("unknown role: %q", req.Role), http.StatusBadRequest)
		return
	}
	if userID == caller.User.ID && req.Role != plugins.RoleAdmin {
		http.Error(w, "Cannot remove your own admin role", http.StatusBadRequest)
		return
	}

	err := h.app.Profiles.UpdateRole(r.Context(), userID, req.Role)
	if errors.Is(err, plugins.ErrResourceNotFound) {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		middleware.Logger(r.Context()).Error("failed to update role", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.audit(r, caller.User.ID, db.AuditProfileRoleChange, fmt.Sprintf("user=%s role=%s", userID, req.Role))

	profile, err := h.app.Profiles.GetProfile(r.Context(), userID)
	if err != nil || profile == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handlers) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.app.DB == nil {
		http.Error(w, "Audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := h.app.DB.QueryAuditLogs(r.Context(), filter)
	if err != nil {
		middleware.Logger(r.Context()).Error("error querying audit logs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if page.Logs == nil {
		page.Logs = []db.AuditLog{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) handleAuditActions(w http.ResponseWriter, r *http.Request) {
	if h.app.DB == nil {
		http.Error(w, "Audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	actions, err := h.app.DB.GetAuditLogActions(r.Context())
	if err != nil {
		middleware.Logger(r.Context()).Error("error getting audit actions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if actions == nil {
		actions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"actions": actions})
}

func (h *handlers) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if h.app.Registry == nil {
		writeJSON(w, http.StatusOK, []plugins.PluginInfo{})
		return
	}
	writeJSON(w, http.StatusOK, h.app.Registry.ListPlugins())
}

func parseAuditFilter(r *http.Request) (db.AuditLogFilter, error) {
	q := r.URL.Query()
	filter := db.AuditLogFilter{
		Actor:  q.Get("actor"),
		Action: q.Get("action"),
	}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' date: %w", err)
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' date: %w", err)
		}
		filter.To = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, fmt.Errorf("invalid 'limit': %w", err)
		}
		filter.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return filter, fmt.Errorf("invalid 'offset': %w", err)
		}
		filter.Offset = offset
	}

	return filter, nil
}
