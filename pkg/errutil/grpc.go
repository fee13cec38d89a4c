package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain names the ErrorInfo domain attached to engine errors.
const errorDomain = "engagement"

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusValidationFailed, StatusBadRequest, StatusUnsupportedMediaType:
		return codes.InvalidArgument
	case StatusNotFound:
		return codes.NotFound
	case StatusFailedPrecondition, StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case StatusConflict:
		return codes.AlreadyExists
	case StatusInternal:
		return codes.Internal
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusForbidden:
		return codes.PermissionDenied
	case StatusTimeout, StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	case StatusClientClosedRequest:
		return codes.Canceled
	case StatusNotImplemented:
		return codes.Unimplemented
	case StatusBadGateway, StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// ToGRPCError converts err into a status error. Engine errors carry their
// CoreStatus and details in an ErrorInfo, so a conflict still reports the
// existing_id of the row that won.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var be BaseError
	if !errors.As(err, &be) {
		return status.Error(codes.Internal, err.Error())
	}

	st := status.New(be.Code.GRPCCode(), be.messageWithErr())
	info := &errdetails.ErrorInfo{Reason: string(be.Code), Domain: errorDomain}
	if len(be.Details) > 0 {
		info.Metadata = make(map[string]string, len(be.Details))
		for _, d := range be.Details {
			info.Metadata[d.Field] = d.Message
		}
	}
	withInfo, derr := st.WithDetails(info)
	if derr != nil {
		return st.Err()
	}
	return withInfo.Err()
}
