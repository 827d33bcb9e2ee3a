package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/lostfound/internal/models"
	"github.com/mmynk/lostfound/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmptyUsername      = errors.New("username is required")
	ErrEmptyPassword      = errors.New("password is required")
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// dummyHash is compared against when the username is unknown so that
// unknown users and wrong passwords take the same time.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Ensure PasswordAuthenticator implements Authenticator
var _ Authenticator = (*PasswordAuthenticator)(nil)

// PasswordAuthenticator implements password-based authentication using bcrypt.
// Accounts live in the storage.Users collection as username -> hash.
type PasswordAuthenticator struct {
	store  storage.Store
	cost   int
	logger *slog.Logger
}

// Option configures a PasswordAuthenticator.
type Option func(*PasswordAuthenticator)

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(a *PasswordAuthenticator) { a.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *PasswordAuthenticator) { a.logger = logger }
}

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator(store storage.Store, opts ...Option) *PasswordAuthenticator {
	a := &PasswordAuthenticator{
		store:  store,
		cost:   bcrypt.DefaultCost,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "accounts")
	return a
}

// ValidateCredential checks that a password was supplied and that bcrypt can hash it.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if credential == "" {
		return ErrEmptyPassword
	}
	if len(credential) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Register creates a new account with a hashed password.
// An existing account is never modified.
func (a *PasswordAuthenticator) Register(ctx context.Context, username, credential string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if err := a.ValidateCredential(credential); err != nil {
		return err
	}

	// Hash before taking the collection lock; bcrypt is slow on purpose.
	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = storage.UpdateAs(ctx, a.store, storage.Users, func(users map[string]string) error {
		if _, exists := users[username]; exists {
			return ErrUsernameTaken
		}
		users[username] = string(hashed)
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("Account registered", "username", username)
	return nil
}

// Authenticate verifies the username and password, returning the identity if valid.
// Usernames and passwords are compared exactly (case-sensitive).
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, username, credential string) (string, error) {
	account, ok, err := a.lookup(ctx, username)
	if err != nil {
		return "", err
	}
	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(credential))
		return "", ErrInvalidCredentials
	}

	stored := account.PasswordHash
	if isHash(stored) {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(credential)); err != nil {
			return "", ErrInvalidCredentials
		}
		return account.Username, nil
	}

	// Accounts written by older versions hold the raw password.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(credential)) != 1 {
		return "", ErrInvalidCredentials
	}
	a.upgradeLegacy(ctx, account.Username, stored, credential)
	return account.Username, nil
}

// lookup returns the account stored under username.
func (a *PasswordAuthenticator) lookup(ctx context.Context, username string) (models.Credential, bool, error) {
	if username == "" {
		return models.Credential{}, false, nil
	}
	users, err := storage.LoadAs[string](ctx, a.store, storage.Users)
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("failed to load accounts: %w", err)
	}
	stored, ok := users[username]
	if !ok {
		return models.Credential{}, false, nil
	}
	return models.Credential{Username: username, PasswordHash: stored}, true, nil
}

// upgradeLegacy replaces a plaintext entry with its bcrypt hash.
// Failures are logged; the login itself already succeeded.
func (a *PasswordAuthenticator) upgradeLegacy(ctx context.Context, username, stored, credential string) {
	if len(credential) > MaxPasswordBytes {
		a.logger.Warn("Legacy password too long to hash, left as is", "username", username)
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		a.logger.Error("Failed to hash legacy password", "username", username, "error", err)
		return
	}

	err = storage.UpdateAs(ctx, a.store, storage.Users, func(users map[string]string) error {
		// Skip if the entry changed since it was read.
		if users[username] == stored {
			users[username] = string(hashed)
		}
		return nil
	})
	if err != nil {
		a.logger.Error("Failed to upgrade legacy password", "username", username, "error", err)
		return
	}
	a.logger.Info("Upgraded legacy password entry", "username", username)
}

func isHash(stored string) bool {
	_, err := bcrypt.Cost([]byte(stored))
	return err == nil
}
