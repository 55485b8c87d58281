package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/netid/internal/logging"
)

// LoggingInterceptor logs each unary call with its duration. Failed calls are
// logged at warn level with their status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			st, _ := grpcstatus.FromError(err)
			logger.Warn("rpc failed", append(fields, zap.String("code", st.Code().String()), zap.String("message", st.Message()))...)
			return resp, err
		}
		logger.Debug("rpc", fields...)
		return resp, nil
	}
}

// StreamLoggingInterceptor logs when a stream opens and how it ended.
// Streams closed by the client cancelling are not failures.
func StreamLoggingInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	logger = logging.OrNop(logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil && ss.Context().Err() == nil {
			st, _ := grpcstatus.FromError(err)
			logger.Warn("stream failed", append(fields, zap.String("code", st.Code().String()), zap.String("message", st.Message()))...)
			return err
		}
		logger.Debug("stream closed", fields...)
		return err
	}
}
