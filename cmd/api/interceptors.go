package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/auth"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
)

const requestIDHeader = "x-request-id"

// principalFromMetadata verifies the bearer token in ctx. ok is false when
// no authorization header was sent.
func principalFromMetadata(ctx context.Context, j *auth.JWTManager) (p data.Principal, ok bool, err error) {
	md, found := metadata.FromIncomingContext(ctx)
	if !found {
		return data.Principal{}, false, nil
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return data.Principal{}, false, nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return data.Principal{}, true, status.Errorf(codes.Unauthenticated, "invalid token")
	}
	claims, err := j.VerifyToken(token)
	if err != nil {
		return data.Principal{}, true, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return claims.Principal(), true, nil
}

// authenticate attaches the caller's principal to ctx. Public methods
// accept anonymous callers but still reject a bad token.
func authenticate(ctx context.Context, j *auth.JWTManager, method string) (context.Context, error) {
	p, present, err := principalFromMetadata(ctx, j)
	if err != nil {
		return nil, err
	}
	if !present {
		if publicMethods[method] {
			return ctx, nil
		}
		return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
	}
	if p.NormalizedEmail() == "" {
		return nil, status.Errorf(codes.Unauthenticated, "token has no email")
	}
	return auth.WithPrincipal(ctx, p), nil
}

// authUnaryInterceptor enforces JWT authentication for every method except
// publicMethods.
func authUnaryInterceptor(j *auth.JWTManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authenticate(ctx, j, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(j *auth.JWTManager) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), j, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// loggingUnaryInterceptor tags each call with a request id and logs its
// outcome.
func loggingUnaryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		id := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))

		resp, err := handler(ctx, req)
		logCall(log, info.FullMethod, id, start, err)
		return resp, err
	}
}

func loggingStreamInterceptor(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		id := requestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDHeader, id))

		err := handler(srv, ss)
		logCall(log, info.FullMethod, id, start, err)
		return err
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

func logCall(log *zap.Logger, method, id string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("request_id", id),
		zap.String("code", code.String()),
		zap.Duration("duration", time.Since(start)),
	}
	switch code {
	case codes.OK, codes.Canceled:
		log.Debug("rpc", fields...)
	case codes.Internal, codes.Unavailable, codes.Unknown:
		log.Error("rpc failed", append(fields, zap.Error(err))...)
	default:
		log.Info("rpc rejected", append(fields, zap.String("reason", errorReason(err)))...)
	}
}

// wrappedServerStream wraps grpc.ServerStream to override Context()
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with the principal)
func (w wrappedServerStream) Context() context.Context { return w.ctx }
