// internal/middleware/metrics.go
package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/lama-service/internal/logging"
	"github.com/SyedDaiam9101/lama-service/internal/metrics"
)

// UnaryMetricsInterceptor records call latency by method and status code, and
// writes one access log line per call.
func UnaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		cost := time.Since(start)
		code := status.Code(err).String()

		metrics.RecordGRPCLatency(info.FullMethod, code, cost.Seconds())

		logging.L().Info("request",
			zap.String("method", info.FullMethod),
			zap.String("code", code),
			zap.String("request_id", GetRequestID(ctx)),
			zap.Duration("cost", cost),
		)

		return resp, err
	}
}
