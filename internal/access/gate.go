// Package access implements the shared-secret gate in front of historian.
// There is exactly one credential for the whole deployment.
package access

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/historian/internal/storage"
)

const (
	// CookieName is the marker mirrored to the browser for route checks.
	CookieName = "historianAccessKey"
	// CookieMaxAge is one year.
	CookieMaxAge = 31536000
)

// Credentials is where the accepted secret is kept.
type Credentials interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Gate compares tokens against the configured secret and remembers a
// successful login.
type Gate struct {
	secret string
	store  Credentials
	logger *slog.Logger
}

// New returns a Gate for secret. An empty secret rejects every token.
func New(secret string, store Credentials) *Gate {
	return &Gate{secret: secret, store: store, logger: slog.Default()}
}

// Configured reports whether a secret is set.
func (g *Gate) Configured() bool {
	return g.secret != ""
}

// Valid reports whether token equals the secret.
func (g *Gate) Valid(token string) bool {
	if g.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1
}

// Authenticate persists token when it matches the secret. A wrong token
// leaves any stored credential untouched.
func (g *Gate) Authenticate(token string) bool {
	if !g.Valid(token) {
		return false
	}
	if err := g.store.SetItem(storage.KeyAccessKey, token); err != nil {
		g.logger.Error("persisting access credential", "error", err)
		return false
	}
	return true
}

// IsAuthenticated reports whether the caller's marker is valid. The stored
// credential is shared by every client, so it never stands in for the
// marker; it is repaired from a valid marker when missing or stale.
func (g *Gate) IsAuthenticated(marker string) bool {
	if !g.Valid(marker) {
		return false
	}
	stored, err := g.store.GetItem(storage.KeyAccessKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		g.logger.Warn("reading access credential", "error", err)
	}
	if err == nil && g.Valid(stored) {
		return true
	}
	if err := g.store.SetItem(storage.KeyAccessKey, marker); err != nil {
		g.logger.Warn("repairing access credential", "error", err)
	}
	return true
}

// Logout forgets the stored credential.
func (g *Gate) Logout() error {
	return g.store.RemoveItem(storage.KeyAccessKey)
}

// SetMarker writes the browser marker cookie.
func SetMarker(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearMarker expires the browser marker cookie.
func ClearMarker(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// Marker returns the marker cookie value, or "".
func Marker(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
