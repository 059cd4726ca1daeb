package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Interceptors logs every RPC and turns handler panics into Internal.
type Interceptors struct {
	logger *slog.Logger
}

func NewInterceptors(logger *slog.Logger) *Interceptors {
	return &Interceptors{logger: logger}
}

// ServerOptions returns the interceptor chain, recovery innermost.
func (i *Interceptors) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(i.UnaryLogging, i.UnaryRecovery),
		grpc.ChainStreamInterceptor(i.StreamLogging, i.StreamRecovery),
	}
}

// =============================================================================
// 1. Logging
// =============================================================================

func (i *Interceptors) UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	i.logRPC(ctx, "unary", info.FullMethod, time.Since(start), err)
	return resp, err
}

// StreamLogging covers Health.Watch and reflection streams.
func (i *Interceptors) StreamLogging(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	i.logRPC(ss.Context(), "stream", info.FullMethod, time.Since(start), err)
	return err
}

func (i *Interceptors) logRPC(ctx context.Context, kind, method string, dur time.Duration, err error) {
	code := status.Code(err)

	level := slog.LevelInfo
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", dur),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	i.logger.LogAttrs(ctx, level, "grpc request", attrs...)
}

// =============================================================================
// 2. Recovery
// =============================================================================

func (i *Interceptors) UnaryRecovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recovered(info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

func (i *Interceptors) StreamRecovery(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recovered(info.FullMethod, r)
		}
	}()
	return handler(srv, ss)
}

func (i *Interceptors) recovered(method string, p any) error {
	i.logger.Error("panic recovered",
		slog.String("method", method),
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	return status.Errorf(codes.Internal, "internal server error")
}
