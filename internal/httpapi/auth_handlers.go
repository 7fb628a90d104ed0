package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
)

type loginRequest struct {
	APIKey string `json:"api_key"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeErrorFields(w, r, http.StatusBadRequest, "invalid login",
			map[string]string{"api_key": "api_key is required"})
		return
	}

	sess, err := a.resolver.CreateSession(r.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusForbidden, "invalid or revoked api key")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleLogout revokes the caller's session and clears the cookie. Always
// answers 200, even for an already-dead session.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if id := sessionIDFromRequest(r); id != "" {
		if err := a.resolver.RevokeSession(r.Context(), id); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to revoke session")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionIDFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if token, err := extractBearerToken(header); err == nil && strings.HasPrefix(token, sessionPrefix) {
			return token
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}
