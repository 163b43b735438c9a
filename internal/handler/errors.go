package handler

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/pkg/validate"
)

// codeFor maps domain errors onto Connect codes.
func codeFor(err error) connect.Code {
	var se *analysis.StatusError
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return connect.CodePermissionDenied
	case errors.Is(err, media.ErrSessionActive),
		errors.Is(err, media.ErrSessionStopped),
		errors.Is(err, media.ErrInvalidState):
		return connect.CodeFailedPrecondition
	case errors.Is(err, media.ErrDeviceUnavailable),
		errors.Is(err, analysis.ErrCircuitOpen),
		errors.Is(err, analysis.ErrNoBackend):
		return connect.CodeUnavailable
	case errors.Is(err, coach.ErrNoSession),
		errors.Is(err, coach.ErrDeadLetterNotFound):
		return connect.CodeNotFound
	case errors.Is(err, coach.ErrUnknownProfile),
		errors.Is(err, validate.ErrInvalid):
		return connect.CodeInvalidArgument
	case errors.Is(err, analysis.ErrAuthExpired),
		errors.Is(err, analysis.ErrNoToken):
		return connect.CodeUnauthenticated
	case errors.As(err, &se):
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}

func connectError(err error) *connect.Error {
	return connect.NewError(codeFor(err), err)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var se *analysis.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	switch codeFor(err) {
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeFailedPrecondition:
		return http.StatusConflict
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeUnauthenticated:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
