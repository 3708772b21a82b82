package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a service error to a gRPC status whose message is the stable
// error code. Internal errors are logged; their details never reach the
// client.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var c codes.Code
	switch common.KindOf(err) {
	case common.KindUnauthenticated, common.KindRecoverable:
		c = codes.Unauthenticated
	case common.KindVerification:
		c = codes.FailedPrecondition
		if errors.Is(err, common.ErrTooManyAttempts) {
			c = codes.ResourceExhausted
		}
	case common.KindConflict:
		c = codes.AlreadyExists
	case common.KindInvalidInput:
		c = codes.InvalidArgument
	default:
		c = codes.Internal
		if errors.Is(err, common.ErrStoreUnavailable) {
			c = codes.Unavailable
		}
		s.logger.Error(ctx, "request failed", "error", err)
	}
	return status.Error(c, common.Code(err))
}
