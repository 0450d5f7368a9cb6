package gateway

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/isopool/pkg/types"
)

// errorCodes pairs supervisor sentinels with the status code they travel as.
// Order matters for toStatus: the first match wins.
var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{types.ErrUnknownTask, codes.NotFound},
	{types.ErrDuplicateTask, codes.AlreadyExists},
	{types.ErrTaskCompleted, codes.FailedPrecondition},
	{types.ErrNoCapacity, codes.ResourceExhausted},
	{types.ErrShuttingDown, codes.Unavailable},
	{types.ErrTimeout, codes.DeadlineExceeded},
}

// toStatus converts a supervisor error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return status.Error(ec.code, err.Error())
		}
	}
	switch {
	case errors.Is(err, types.ErrCodec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps a gRPC status error back onto the supervisor sentinels so
// callers can keep using errors.Is.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, ec := range errorCodes {
		if st.Code() == ec.code {
			return fmt.Errorf("%w: %s", ec.err, st.Message())
		}
	}
	return err
}
