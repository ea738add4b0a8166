package access

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RequireCredential guards the JSON API. It accepts a bearer token or a
// marker cookie equal to the secret.
func (g *Gate) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Valid(BearerToken(r)) || g.Valid(Marker(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"message": "invalid or missing access key",
				"type":    "authentication_error",
			},
		})
	})
}

// RouteGate redirects page requests without a marker cookie to loginPath.
// The login page, static assets and machine endpoints pass through.
func RouteGate(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r.URL.Path, loginPath) || Marker(r) != "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, loginPath, http.StatusFound)
		})
	}
}

func exempt(path, loginPath string) bool {
	switch {
	case path == loginPath,
		path == "/favicon.ico",
		path == "/health",
		path == "/metrics",
		path == "/logout",
		strings.HasPrefix(path, "/static/"),
		strings.HasPrefix(path, "/api/"):
		return true
	}
	return false
}

// BearerToken returns the token of an Authorization: Bearer header, or "".
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return auth[len(prefix):]
}
