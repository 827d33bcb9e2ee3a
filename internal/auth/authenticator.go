package auth

import (
	"context"
)

// Authenticator defines the interface for account registration and login.
// This abstraction allows swapping the credential scheme (passwords today,
// passkeys later) without changing the service layer code.
type Authenticator interface {
	// Register creates a new account with the given username and credential.
	// Returns ErrUsernameTaken if the username is already registered.
	Register(ctx context.Context, username, credential string) error

	// Authenticate verifies the credential and returns the identity (the username).
	// Returns ErrInvalidCredentials if the pair does not match a registered account.
	Authenticate(ctx context.Context, username, credential string) (string, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
