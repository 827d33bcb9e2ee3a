package service

import (
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/middleware"
)

// toConnectError maps domain errors onto Connect codes.
// Unknown errors become CodeInternal and are not described to the caller.
func toConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		return connect.NewError(connect.CodeAlreadyExists, auth.ErrUsernameTaken)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidCredentials)
	case errors.Is(err, middleware.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, ledger.ErrItemNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, auth.ErrEmptyUsername),
		errors.Is(err, auth.ErrEmptyPassword),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, ledger.ErrEmptyItemName),
		errors.Is(err, ledger.ErrEmptyMessage),
		errors.Is(err, ledger.ErrEmptyUser):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

// failure logs err when it has no domain meaning and returns it as a Connect error.
func failure(logger *slog.Logger, msg string, err error) *connect.Error {
	cerr := toConnectError(err)
	if cerr.Code() == connect.CodeInternal {
		logger.Error(msg, "error", err)
	}
	return cerr
}
