package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearerScheme  = "Bearer "
	sessionCookie = "fleet_session"
	sessionPrefix = "ses_"
)

var publicPaths = []string{
	"/api/login",
	"/api/export/fleet.csv", // carries its own signed token
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth resolves the caller's credential and stores the organization in
// the request context. A bearer token always wins over the session cookie.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		org, err := a.resolveCredential(r)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				writeError(w, r, http.StatusForbidden, "unauthorized")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithOrg(r.Context(), org)))
	})
}

func (a *API) resolveCredential(r *http.Request) (auth.Organization, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		token, err := extractBearerToken(header)
		if err != nil {
			return auth.Organization{}, auth.ErrUnauthorized
		}
		if strings.HasPrefix(token, sessionPrefix) {
			return a.resolver.ResolveSession(r.Context(), token)
		}
		return a.resolver.ResolveAPIKey(r.Context(), token)
	}

	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return a.resolver.ResolveSession(r.Context(), c.Value)
	}

	return auth.Organization{}, auth.ErrUnauthorized
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// requireOrg loads the authenticated organization or rejects the request.
func requireOrg(w http.ResponseWriter, r *http.Request) (auth.Organization, bool) {
	org, ok := auth.OrgFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "unauthorized")
		return auth.Organization{}, false
	}
	return org, true
}

// requireWrite additionally rejects readonly credentials.
func requireWrite(w http.ResponseWriter, r *http.Request) (auth.Organization, bool) {
	org, ok := requireOrg(w, r)
	if !ok {
		return auth.Organization{}, false
	}
	if !org.Role.CanWrite() {
		writeError(w, r, http.StatusForbidden, "readonly credentials cannot modify state")
		return auth.Organization{}, false
	}
	return org, true
}

// requireAdmin gates the action queue and the export/stream surfaces.
func requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Organization, bool) {
	org, ok := requireOrg(w, r)
	if !ok {
		return auth.Organization{}, false
	}
	if org.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin credentials required")
		return auth.Organization{}, false
	}
	return org, true
}
