package inspect

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"driftpursuit/worldclient/internal/logging"
)

const sharedSecretMetadataKey = "x-inspect-secret"

// NewServer builds a gRPC server exposing service behind shared-secret
// authentication. An empty secret rejects every call.
func NewServer(service *Service, secret string, logger *logging.Logger, extra ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = logging.L()
	}
	opts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(newSharedSecretUnaryInterceptor(secret)),
		grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(secret)),
	}, extra...)
	server := grpc.NewServer(opts...)
	server.RegisterService(&ServiceDesc, service)
	logger.Info("inspect shared-secret authentication enabled")
	return server
}

func checkSharedSecret(ctx context.Context, expected string) error {
	if expected == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func newSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func newSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(sharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// SharedSecret attaches the secret to every call made on a client connection.
type SharedSecret string

var _ credentials.PerRPCCredentials = SharedSecret("")

func (s SharedSecret) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{sharedSecretMetadataKey: string(s)}, nil
}

// RequireTransportSecurity is false: the inspect listener is meant for loopback use.
func (SharedSecret) RequireTransportSecurity() bool { return false }
