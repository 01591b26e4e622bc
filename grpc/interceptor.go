package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// VerifyToken validates the signed token read from the auth-token
	// metadata key and returns the account ID it authenticates. The
	// signature matches Middleware.VerifyToken, so an Auth's JWT verifier
	// plugs in directly:
	//
	//	cfg := DefaultInterceptorConfig()
	//	cfg.VerifyToken = authn.Middleware.VerifyToken
	//
	// When set, a bare account-ID metadata value is no longer trusted; the
	// caller must present a token. When nil, the account-ID key is trusted
	// as-is, which is only safe behind a gateway that already authenticated
	// the caller.
	VerifyToken func(tokenString string) (accountID string, token any, err error)

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but AccountIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   false,
		PublicMethods: make(map[string]bool),
	}
}

func (config *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	return config
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// requests. With VerifyToken set it validates the signed token from the
// auth-token metadata key; otherwise it trusts the account-ID key. The
// resolved account ID is written back into the handler's incoming metadata
// so AccountIDFromContext works either way.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		accountID := authenticate(ctx, config)

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if accountID == "" {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(withAccountID(ctx, config.Config, accountID), req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor with the same
// authentication behavior as UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		accountID := authenticate(ctx, config)

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if accountID == "" {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: withAccountID(ctx, config.Config, accountID)})
	}
}

// authenticatedStream overrides the stream context with the one carrying the
// resolved account ID.
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }

// authenticate resolves the calling account from request metadata. The
// switch-account override (dev/test only) wins, then token verification,
// then the trusted account-ID key when no verifier is configured.
func authenticate(ctx context.Context, config *InterceptorConfig) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	if config.Config.EnableSwitchAuth {
		if values := md.Get(config.Config.MetadataKeySwitchAccount); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}

	if config.VerifyToken != nil {
		for _, raw := range md.Get(config.Config.MetadataKeyAuthToken) {
			tokenString := strings.TrimPrefix(raw, "Bearer ")
			if tokenString == "" {
				continue
			}
			accountID, _, err := config.VerifyToken(tokenString)
			if err == nil && accountID != "" {
				return accountID
			}
		}
		return ""
	}

	if values := md.Get(config.Config.MetadataKeyAccountID); len(values) > 0 {
		return values[0]
	}

	return ""
}

// withAccountID pins the resolved account ID into the incoming metadata so
// downstream AccountIDFromContext calls see the authenticated identity, not
// whatever the caller claimed.
func withAccountID(ctx context.Context, config *Config, accountID string) context.Context {
	if accountID == "" {
		return ctx
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	md.Set(config.MetadataKeyAccountID, accountID)
	return metadata.NewIncomingContext(ctx, md)
}
