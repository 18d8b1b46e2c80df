// Package grpc adapts the session gate for RPC callers: interceptors
// that verify the same bearer token HTTP callers send, read from the
// request metadata instead of an Authorization header.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authgate "github.com/shopworks/authgate"
)

// DefaultMetadataKeyAuthorization is the metadata key carrying the
// bearer token.
const DefaultMetadataKeyAuthorization = "authorization"

type claimsKey struct{}

// TokenVerifier validates a raw token string; normally
// (*authgate.TokenIssuer).Verify.
type TokenVerifier func(tokenString string) (*authgate.SessionClaims, error)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// MetadataKey is the metadata key holding the bearer token.
	// Defaults to "authorization".
	MetadataKey string

	// Verify validates the token. Required.
	Verify TokenVerifier

	// RequireAuth when true rejects unauthenticated requests. When
	// false, requests proceed but ClaimsFromContext returns nil.
	RequireAuth bool

	// PublicMethods is a set of full method names, like
	// "/package.Service/Method", that skip the auth requirement.
	PublicMethods map[string]bool
}

// EnsureDefaults fills in default values for any unset fields.
func (c *InterceptorConfig) EnsureDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKeyAuthorization
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// UnaryAuthInterceptor returns a unary interceptor that verifies the
// bearer token and attaches the claims to the handler context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.EnsureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		claims := extractClaims(ctx, config)
		if claims == nil && config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		if claims != nil {
			ctx = context.WithValue(ctx, claimsKey{}, claims)
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a stream interceptor with the same
// behavior as UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.EnsureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		claims := extractClaims(ss.Context(), config)
		if claims == nil && config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			return status.Error(codes.Unauthenticated, "authentication required")
		}
		if claims != nil {
			ss = &claimsStream{ServerStream: ss, claims: claims}
		}
		return handler(srv, ss)
	}
}

// ClaimsFromContext returns the claims attached by the interceptor, or
// nil when the call was not authenticated.
func ClaimsFromContext(ctx context.Context) *authgate.SessionClaims {
	claims, _ := ctx.Value(claimsKey{}).(*authgate.SessionClaims)
	return claims
}

func extractClaims(ctx context.Context, config *InterceptorConfig) *authgate.SessionClaims {
	if config.Verify == nil {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	for _, value := range md.Get(config.MetadataKey) {
		tokenString := strings.TrimPrefix(value, "Bearer ")
		if tokenString == "" {
			continue
		}
		if claims, err := config.Verify(tokenString); err == nil && claims != nil {
			return claims
		}
	}
	return nil
}

// claimsStream wraps a ServerStream so handlers see the authenticated
// context.
type claimsStream struct {
	grpc.ServerStream
	claims *authgate.SessionClaims
}

func (s *claimsStream) Context() context.Context {
	return context.WithValue(s.ServerStream.Context(), claimsKey{}, s.claims)
}
