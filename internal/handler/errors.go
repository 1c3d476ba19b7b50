// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/lama-service/internal/codec"
	"github.com/SyedDaiam9101/lama-service/internal/lama"
)

// grpcError maps known internal errors to appropriate gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "inpaint canceled")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "inpaint deadline exceeded")

	case errors.Is(err, lama.ErrInitialize):
		return status.Errorf(codes.FailedPrecondition, "model loading failed: %v", err)

	case errors.Is(err, codec.ErrBadDimensions):
		return status.Errorf(codes.InvalidArgument, "image shape mismatch: %v", err)

	case errors.Is(err, codec.ErrShortTensor):
		return status.Errorf(codes.Internal, "model output shape mismatch: %v", err)
	}

	// Engine errors carry no sentinels; match on their messages.
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "session is nil"):
		return status.Errorf(codes.FailedPrecondition, "inference engine not initialized")

	case strings.Contains(errMsg, "wrong size"), strings.Contains(errMsg, "missing input"):
		return status.Errorf(codes.InvalidArgument, "tensor shape mismatch: %v", err)

	case strings.Contains(errMsg, "failed to create input tensor"),
		strings.Contains(errMsg, "failed to create output tensor"):
		return status.Errorf(codes.Internal, "tensor creation failed: %v", err)

	case strings.Contains(errMsg, "inference failed"):
		return status.Errorf(codes.Internal, "inference execution failed: %v", err)

	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// internalError creates an Internal gRPC error
func internalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}
