package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mmynk/lostfound/internal/auth"
)

// DefaultSessionCookie is the cookie holding the session token.
const DefaultSessionCookie = "lostfound_session"

// SessionGate tracks the identity of browser clients in a signed cookie.
//
// A request is Anonymous until Login sets the cookie, and Authenticated
// until Logout clears it (or the token expires).
type SessionGate struct {
	tokens     *auth.JWTManager
	cookieName string
	loginPath  string
	logger     *slog.Logger
}

// SessionOptions configures a SessionGate.
type SessionOptions struct {
	CookieName string
	// LoginPath is where anonymous requests to gated routes are sent.
	LoginPath string
	Logger    *slog.Logger
}

// NewSessionGate creates a SessionGate issuing tokens from tokens.
func NewSessionGate(tokens *auth.JWTManager, opts SessionOptions) *SessionGate {
	g := &SessionGate{
		tokens:     tokens,
		cookieName: opts.CookieName,
		loginPath:  opts.LoginPath,
		logger:     opts.Logger,
	}
	if g.cookieName == "" {
		g.cookieName = DefaultSessionCookie
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "session")
	return g
}

// Current returns the identity of the session cookie on r, if any.
func (g *SessionGate) Current(r *http.Request) (string, bool) {
	if identity, ok := Identity(r.Context()); ok {
		return identity, true
	}
	return g.identityFromCookie(r)
}

// Require wraps a handler so that anonymous requests are redirected to the login page.
func (g *SessionGate) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := g.Current(r)
		if !ok {
			http.Redirect(w, r, g.loginPath, http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(WithIdentity(r.Context(), identity)))
	}
}

// Login starts an authenticated session for identity.
func (g *SessionGate) Login(w http.ResponseWriter, r *http.Request, identity string) error {
	token, err := g.tokens.Generate(identity)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(g.tokens.TokenDuration()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	g.logger.Info("Session started", "username", identity)
	return nil
}

// Logout ends the session: the token is revoked and the cookie cleared.
func (g *SessionGate) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(g.cookieName); err == nil && cookie.Value != "" {
		g.tokens.Revoke(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	if identity, ok := Identity(r.Context()); ok {
		g.logger.Info("Session ended", "username", identity)
	}
}

func (g *SessionGate) identityFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	claims, err := g.tokens.Validate(cookie.Value)
	if err != nil {
		g.logger.Debug("Ignoring invalid session cookie", "error", err)
		return "", false
	}
	return claims.Username, true
}
