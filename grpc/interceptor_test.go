package grpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	auth "github.com/gvinokur/qatar-prode-sub000"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig()
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil {
		t.Error("expected Config to be initialized")
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig("/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] {
		t.Error("expected Method1 to be public")
	}
	if !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestOptionalAuthConfig(t *testing.T) {
	config := OptionalAuthConfig()
	if config.RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func TestUnaryAuthInterceptor_RequireAuth_NoAccount(t *testing.T) {
	interceptor := UnaryAuthInterceptor(nil)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})

	if err == nil {
		t.Fatal("expected error for unauthenticated request")
	}

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated code, got %v", st.Code())
	}
}

func TestUnaryAuthInterceptor_RequireAuth_WithAccount(t *testing.T) {
	interceptor := UnaryAuthInterceptor(nil)

	md := metadata.Pairs(DefaultMetadataKeyAccountID, "acct123")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "result", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	config := NewPublicMethodsConfig("/pkg.Svc/PublicMethod")
	interceptor := UnaryAuthInterceptor(config)

	ctx := context.Background() // No account
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/PublicMethod"}

	handlerCalled := false
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "result", nil
	})

	if err != nil {
		t.Fatalf("unexpected error for public method: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	config := OptionalAuthConfig()
	interceptor := UnaryAuthInterceptor(config)

	ctx := context.Background() // No account
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "result", nil
	})

	if err != nil {
		t.Fatalf("unexpected error with optional auth: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called with optional auth")
	}
}

func TestUnaryAuthInterceptor_SwitchAccount(t *testing.T) {
	config := DefaultInterceptorConfig()
	config.EnableSwitchAuth = true
	interceptor := UnaryAuthInterceptor(config)

	// Only a switch-account header, no actual account ID
	md := metadata.Pairs(DefaultMetadataKeySwitchAccount, "switched123")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return nil, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called with switched account")
	}
}

// signInToken mints a real signed token the way the HTTP layer does on
// sign-in, so the interceptor tests verify the same JWTs production issues.
func signInToken(t *testing.T, a *auth.Auth, accountID string) string {
	t.Helper()
	account := &auth.Account{ID: accountID, Email: "who@example.com", PasswordHash: "x"}
	token := a.SetLoggedInAccount(account, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if token == "" {
		t.Fatal("expected a signed token")
	}
	return token
}

func TestUnaryAuthInterceptor_VerifiedToken(t *testing.T) {
	a := auth.New("GrpcTestApp")
	token := signInToken(t, a, "acct-1")

	config := DefaultInterceptorConfig()
	config.VerifyToken = a.Middleware.VerifyToken
	interceptor := UnaryAuthInterceptor(config)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	t.Run("valid token authenticates", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(),
			metadata.Pairs(DefaultMetadataKeyAuthToken, "Bearer "+token))

		var seen string
		_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			seen = AccountIDFromContext(ctx)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen != "acct-1" {
			t.Errorf("expected handler to see acct-1, got %q", seen)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(),
			metadata.Pairs(DefaultMetadataKeyAuthToken, "Bearer not-a-jwt"))

		_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Error("handler should not be called")
			return nil, nil
		})
		if st, ok := status.FromError(err); !ok || st.Code() != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("bare account id is not trusted", func(t *testing.T) {
		// With a verifier configured, a caller-claimed ID alone must fail
		ctx := metadata.NewIncomingContext(context.Background(),
			metadata.Pairs(DefaultMetadataKeyAccountID, "acct-impostor"))

		_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Error("handler should not be called")
			return nil, nil
		})
		if st, ok := status.FromError(err); !ok || st.Code() != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("verified id overrides a claimed one", func(t *testing.T) {
		md := metadata.Pairs(
			DefaultMetadataKeyAuthToken, "Bearer "+token,
			DefaultMetadataKeyAccountID, "acct-impostor",
		)
		ctx := metadata.NewIncomingContext(context.Background(), md)

		var seen string
		_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			seen = AccountIDFromContext(ctx)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen != "acct-1" {
			t.Errorf("expected the token's account, got %q", seen)
		}
	})
}

func TestStreamAuthInterceptor_VerifiedToken(t *testing.T) {
	a := auth.New("GrpcTestApp")
	token := signInToken(t, a, "acct-2")

	config := DefaultInterceptorConfig()
	config.VerifyToken = a.Middleware.VerifyToken
	interceptor := StreamAuthInterceptor(config)
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	ctx := AuthTokenToOutgoingContext(context.Background(), token)
	outMD, _ := metadata.FromOutgoingContext(ctx)
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), outMD)}

	var seen string
	err := interceptor(nil, ss, info, func(srv interface{}, stream grpc.ServerStream) error {
		seen = AccountIDFromContext(stream.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "acct-2" {
		t.Errorf("expected the stream handler to see acct-2, got %q", seen)
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamAuthInterceptor_RequireAuth_NoAccount(t *testing.T) {
	interceptor := StreamAuthInterceptor(nil)

	ss := &fakeServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	err := interceptor(nil, ss, info, func(srv interface{}, stream grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})

	if err == nil {
		t.Fatal("expected error for unauthenticated stream")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated code, got %v", err)
	}
}

func TestStreamAuthInterceptor_WithAccount(t *testing.T) {
	interceptor := StreamAuthInterceptor(nil)

	md := metadata.Pairs(DefaultMetadataKeyAccountID, "acct123")
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	handlerCalled := false
	err := interceptor(nil, ss, info, func(srv interface{}, stream grpc.ServerStream) error {
		handlerCalled = true
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}
