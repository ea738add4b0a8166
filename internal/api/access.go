package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kalambet/historian/internal/access"
)

type loginRequest struct {
	Token string `json:"token"`
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		jsonReq := wantsJSON(r)
		var token string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req loginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			token = req.Token
		} else {
			if err := r.ParseForm(); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid form: %v", err)
				return
			}
			token = r.PostFormValue("token")
		}
		token = strings.TrimSpace(token)

		if !deps.Gate.Authenticate(token) {
			deps.logger().Info("rejected access attempt", "remote", r.RemoteAddr)
			if jsonReq {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid access key")
				return
			}
			renderPage(w, deps, http.StatusUnauthorized, "access.html", accessPage{
				Error:      "Invalid access key. Please try again.",
				Configured: deps.Gate.Configured(),
			})
			return
		}

		access.SetMarker(w, token)
		if jsonReq {
			writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Gate.Logout(); err != nil {
			deps.logger().Warn("clearing access credential", "error", err)
		}
		access.ClearMarker(w)
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
			return
		}
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	}
}

// handleAccessStatus reports whether the caller's bearer token or marker
// cookie would be let in.
func handleAccessStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok := deps.Gate.Valid(access.BearerToken(r)) || deps.Gate.IsAuthenticated(access.Marker(r))
		writeJSON(w, http.StatusOK, map[string]bool{
			"authenticated": ok,
			"configured":    deps.Gate.Configured(),
		})
	}
}

type accessPage struct {
	Error      string
	Configured bool
}

func handleAccessPage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Gate.IsAuthenticated(access.Marker(r)) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		renderPage(w, deps, http.StatusOK, "access.html", accessPage{Configured: deps.Gate.Configured()})
	}
}
