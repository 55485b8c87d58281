package api

import (
	"context"
	"errors"

	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ToStatus maps a domain error to a gRPC status error. Errors that already
// carry a status pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	var rejected *errs.RejectedError
	var partial *errs.PartialFailureError
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errs.ErrTimedOut):
		return codes.DeadlineExceeded
	case errors.Is(err, errs.ErrInvalidLocalUser),
		errors.Is(err, errs.ErrInvalidStateTransition),
		errors.Is(err, errs.ErrOperationInProgress):
		return codes.FailedPrecondition
	case errors.Is(err, errs.ErrDuplicateSessionName):
		return codes.AlreadyExists
	case errors.Is(err, errs.ErrSessionNotFound):
		return codes.NotFound
	case errors.Is(err, errs.ErrNotSupported):
		return codes.Unimplemented
	case errors.Is(err, identity.ErrInvalidIdentity), errors.Is(err, identity.ErrMalformedEncoding):
		return codes.InvalidArgument
	case errors.As(err, &rejected):
		return rejectedCode(rejected.Code)
	case errors.As(err, &partial):
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func rejectedCode(code int) codes.Code {
	switch code {
	case 400:
		return codes.InvalidArgument
	case 401, 403:
		return codes.Unauthenticated
	case 404:
		return codes.NotFound
	case 408:
		return codes.DeadlineExceeded
	case 409:
		return codes.FailedPrecondition
	case 501:
		return codes.Unimplemented
	case 503:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func invalidArg(format string, args ...any) error {
	return grpcstatus.Errorf(codes.InvalidArgument, format, args...)
}
