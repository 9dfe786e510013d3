package grpc

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

// recoveryInterceptor turns handler panics into Internal errors
func recoveryInterceptor(logger *observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in handler", map[string]interface{}{
					"method": info.FullMethod,
					"panic":  r,
					"stack":  string(debug.Stack()),
				})
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// accessInterceptor logs every call and records it in metrics
func accessInterceptor(logger *observability.AccessLogger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)
		code := status.Code(err)

		if metrics != nil {
			metrics.RecordRequest(info.FullMethod, code.String(), duration)
			if err != nil {
				metrics.RecordError(info.FullMethod, code.String())
			}
		}
		fields := map[string]interface{}{"protocol": "grpc"}
		if err != nil {
			fields["error"] = status.Convert(err).Message()
		}
		logger.LogAccess("UNARY", info.FullMethod, code.String(), duration, fields)
		return resp, err
	}
}

// authInterceptor validates the bearer token in the authorization metadata.
// Health checks and reflection stay public.
func authInterceptor(cfg api.AuthConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !cfg.Enabled || !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		token, err := api.BearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		claims, err := api.ParseToken(token, cfg)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(api.ContextWithClaims(ctx, claims), req)
	}
}

// rateLimitInterceptor applies one token bucket to every call
func rateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limiter.Allow() {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
