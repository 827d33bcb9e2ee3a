package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/metrics"
	"github.com/mmynk/lostfound/internal/middleware"
)

// AuthService implements the AuthService RPC interface.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
// m may be nil.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, m *metrics.Metrics, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		metrics:       m,
		logger:        logger.With("component", "auth_service"),
	}
}

// Register creates a new user account.
func (s *AuthService) Register(ctx context.Context, req *connect.Request[RegisterRequest]) (*connect.Response[RegisterResponse], error) {
	s.logger.Info("Register request", "username", req.Msg.Username)

	if req.Msg.Username == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, auth.ErrEmptyUsername)
	}
	if err := s.authenticator.ValidateCredential(req.Msg.Password); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.authenticator.Register(ctx, req.Msg.Username, req.Msg.Password); err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			s.logger.Warn("Registration rejected", "username", req.Msg.Username, "error", err)
		}
		return nil, failure(s.logger, "Registration failed", err)
	}

	s.logger.Info("User registered successfully", "username", req.Msg.Username)
	return connect.NewResponse(&RegisterResponse{Username: req.Msg.Username}), nil
}

// Login authenticates a user and returns a session token.
func (s *AuthService) Login(ctx context.Context, req *connect.Request[LoginRequest]) (*connect.Response[LoginResponse], error) {
	s.logger.Info("Login request", "username", req.Msg.Username)

	identity, err := s.authenticator.Authenticate(ctx, req.Msg.Username, req.Msg.Password)
	if err != nil {
		s.metrics.Login(false)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("Login failed", "username", req.Msg.Username)
		}
		return nil, failure(s.logger, "Login failed", err)
	}
	s.metrics.Login(true)

	token, err := s.jwtManager.Generate(identity)
	if err != nil {
		s.logger.Error("Failed to generate token", "username", identity, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.Info("User logged in successfully", "username", identity)
	return connect.NewResponse(&LoginResponse{
		Username:  identity,
		Token:     token,
		ExpiresAt: time.Now().Add(s.jwtManager.TokenDuration()).Unix(),
	}), nil
}

// Logout revokes the caller's token.
func (s *AuthService) Logout(ctx context.Context, req *connect.Request[LogoutRequest]) (*connect.Response[LogoutResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	if token, err := middleware.BearerToken(req.Header().Get("Authorization")); err == nil {
		s.jwtManager.Revoke(token)
	}

	s.logger.Info("User logged out", "username", identity)
	return connect.NewResponse(&LogoutResponse{}), nil
}

// Me returns the identity bound to the caller's token.
func (s *AuthService) Me(ctx context.Context, req *connect.Request[MeRequest]) (*connect.Response[MeResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}
	return connect.NewResponse(&MeResponse{Username: identity}), nil
}
