package middleware

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/lostfound/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// IdentityKey is the context key for the authenticated username.
const IdentityKey contextKey = "identity"

// ErrUnauthenticated is returned by gated operations called without an identity.
var ErrUnauthenticated = errors.New("authentication required")

// WithIdentity returns a context carrying the authenticated username.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// Identity extracts the username from the context.
// The second result is false for anonymous requests.
func Identity(ctx context.Context) (string, bool) {
	identity, _ := ctx.Value(IdentityKey).(string)
	return identity, identity != ""
}

// RequireIdentity returns the username or ErrUnauthenticated.
func RequireIdentity(ctx context.Context) (string, error) {
	identity, ok := Identity(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return identity, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", auth.ErrMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", auth.ErrInvalidToken
	}
	return parts[1], nil
}

// RequireAuth returns an interceptor that validates bearer tokens and requires authentication.
// It extracts the token from the Authorization header, validates it, and adds
// the username to the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			tokenString, err := BearerToken(req.Header().Get("Authorization"))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			claims, err := jwtManager.Validate(tokenString)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithIdentity(ctx, claims.Username), req)
		}
	}
}

// OptionalAuth returns an interceptor that validates bearer tokens if present, but allows
// requests without authentication. Handlers decide what anonymous callers may do.
func OptionalAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if tokenString, err := BearerToken(req.Header().Get("Authorization")); err == nil {
				// Invalid tokens are ignored; the request proceeds anonymously.
				if claims, err := jwtManager.Validate(tokenString); err == nil {
					ctx = WithIdentity(ctx, claims.Username)
				}
			}
			return next(ctx, req)
		}
	}
}
