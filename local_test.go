package prodeauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/gvinokur/qatar-prode-sub000"
	"github.com/gvinokur/qatar-prode-sub000/stores/fs"
)

// captureEmailSender records outgoing mail so tests can pull codes and links
// out of it.
type captureEmailSender struct {
	mu                sync.Mutex
	lastOTPCode       string
	lastVerifyLink    string
	lastResetLink     string
	failOTPDeliveries bool
}

func (c *captureEmailSender) SendOTPEmail(to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOTPDeliveries {
		return http.ErrHandlerTimeout
	}
	c.lastOTPCode = code
	return nil
}

func (c *captureEmailSender) SendVerificationEmail(to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastVerifyLink = link
	return nil
}

func (c *captureEmailSender) SendPasswordResetEmail(to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResetLink = link
	return nil
}

type localFixture struct {
	store    *fs.FSAccountStore
	clock    *fakeClock
	emails   *captureEmailSender
	local    *auth.LocalAuth
	otp      *auth.OTPEngine
	lastAuth *auth.Account
}

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	f := &localFixture{
		store:  newTestStore(t),
		clock:  newFakeClock(),
		emails: &captureEmailSender{},
	}
	hasher := &auth.BcryptHasher{}
	f.otp = &auth.OTPEngine{Store: f.store, Now: f.clock.Now}
	f.local = &auth.LocalAuth{
		Store:       f.store,
		Resolver:    auth.NewIdentityResolver(f.store, hasher),
		OTP:         f.otp,
		Tokens:      &auth.TokenLifecycle{Store: f.store, Now: f.clock.Now},
		Hasher:      hasher,
		EmailSender: f.emails,
		BaseURL:     "http://localhost:8080",
		HandleAccount: func(authtype, provider string, account *auth.Account, w http.ResponseWriter, r *http.Request) {
			f.lastAuth = account
			w.WriteHeader(http.StatusOK)
		},
	}
	return f
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func postForm(t *testing.T, handler http.HandlerFunc, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestSignupAndLogin(t *testing.T) {
	f := newLocalFixture(t)

	rr := postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
		"email":        "new@example.com",
		"password":     "longenoughpw",
		"display_name": "New User",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("signup: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.lastAuth == nil || f.lastAuth.Email != "new@example.com" {
		t.Fatal("signup should hand the account to HandleAccount")
	}
	if f.emails.lastVerifyLink == "" {
		t.Error("signup should send a verification email")
	}

	f.lastAuth = nil
	rr = postForm(t, f.local.ServeHTTP, "/auth/login", url.Values{
		"email":    {"new@example.com"},
		"password": {"longenoughpw"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.lastAuth == nil {
		t.Error("login should hand the account to HandleAccount")
	}
}

func TestSignupValidation(t *testing.T) {
	f := newLocalFixture(t)

	t.Run("bad email", func(t *testing.T) {
		rr := postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
			"email": "not-an-email", "password": "longenoughpw",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), auth.ErrCodeInvalidEmail) {
			t.Errorf("expected %s code in body: %s", auth.ErrCodeInvalidEmail, rr.Body.String())
		}
	})

	t.Run("weak password", func(t *testing.T) {
		rr := postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
			"email": "ok@example.com", "password": "short",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), auth.ErrCodeWeakPassword) {
			t.Errorf("expected %s code in body: %s", auth.ErrCodeWeakPassword, rr.Body.String())
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		body := map[string]any{"email": "dup@example.com", "password": "longenoughpw"}
		if rr := postJSON(t, f.local.HandleSignup, "/auth/signup", body); rr.Code != http.StatusOK {
			t.Fatalf("first signup failed: %d", rr.Code)
		}
		rr := postJSON(t, f.local.HandleSignup, "/auth/signup", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), auth.ErrCodeEmailExists) {
			t.Errorf("expected %s code in body: %s", auth.ErrCodeEmailExists, rr.Body.String())
		}
	})
}

func TestLoginFailureIsOpaque(t *testing.T) {
	f := newLocalFixture(t)

	postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
		"email": "user@example.com", "password": "longenoughpw",
	})
	f.lastAuth = nil

	wrongPw := postJSON(t, f.local.ServeHTTP, "/auth/login", map[string]any{
		"email": "user@example.com", "password": "wrong-password",
	})
	unknownEmail := postJSON(t, f.local.ServeHTTP, "/auth/login", map[string]any{
		"email": "nobody@example.com", "password": "longenoughpw",
	})

	if wrongPw.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", wrongPw.Code, unknownEmail.Code)
	}
	// Identical body for both failure modes
	if wrongPw.Body.String() != unknownEmail.Body.String() {
		t.Errorf("failure bodies should be indistinguishable:\n%s\n%s", wrongPw.Body.String(), unknownEmail.Body.String())
	}
	if f.lastAuth != nil {
		t.Error("failed login must not authenticate")
	}
}

func TestOTPFlow(t *testing.T) {
	f := newLocalFixture(t)

	rr := postJSON(t, f.local.HandleRequestOTP, "/auth/otp/request", map[string]any{
		"email": "otp@example.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("request otp: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	code := f.emails.lastOTPCode
	if code == "" {
		t.Fatal("expected the code to be emailed")
	}

	rr = postJSON(t, f.local.HandleVerifyOTP, "/auth/otp/verify", map[string]any{
		"email": "otp@example.com", "code": code,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify otp: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.lastAuth == nil || !f.lastAuth.EmailVerified {
		t.Fatal("otp verify should authenticate with a verified email")
	}

	// The handler clears the code after finalization
	stored, _ := f.store.GetAccountByEmail(context.Background(), "otp@example.com")
	if stored.OTPCode != "" {
		t.Error("expected the code to be cleared after sign-in")
	}

	// And a replay of the same code now fails
	rr = postJSON(t, f.local.HandleVerifyOTP, "/auth/otp/verify", map[string]any{
		"email": "otp@example.com", "code": code,
	})
	if rr.Code == http.StatusOK {
		t.Error("replayed code should not verify")
	}
	if !strings.Contains(rr.Body.String(), auth.ErrCodeNoActiveCode) {
		t.Errorf("expected %s code in body: %s", auth.ErrCodeNoActiveCode, rr.Body.String())
	}
}

func TestOTPRateLimitResponse(t *testing.T) {
	f := newLocalFixture(t)

	first := postJSON(t, f.local.HandleRequestOTP, "/auth/otp/request", map[string]any{"email": "rl@example.com"})
	if first.Code != http.StatusOK {
		t.Fatalf("first request failed: %d", first.Code)
	}

	f.clock.Advance(10 * time.Second)
	second := postJSON(t, f.local.HandleRequestOTP, "/auth/otp/request", map[string]any{"email": "rl@example.com"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", second.Code, second.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	retry, ok := payload["retry_after_seconds"].(float64)
	if !ok || retry < 49 || retry > 51 {
		t.Errorf("expected ~50s retry hint, got %v", payload["retry_after_seconds"])
	}
}

func TestOTPDeliveryFailureKeepsCode(t *testing.T) {
	f := newLocalFixture(t)
	f.emails.failOTPDeliveries = true

	rr := postJSON(t, f.local.HandleRequestOTP, "/auth/otp/request", map[string]any{"email": "flaky@example.com"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on delivery failure, got %d", rr.Code)
	}

	// The issued code survived and can still be verified directly
	stored, err := f.store.GetAccountByEmail(context.Background(), "flaky@example.com")
	if err != nil {
		t.Fatalf("expected account: %v", err)
	}
	if stored.OTPCode == "" {
		t.Fatal("delivery failure must not roll back the code")
	}
	if _, err := f.otp.VerifyCode(context.Background(), "flaky@example.com", stored.OTPCode); err != nil {
		t.Errorf("code should verify despite delivery failure: %v", err)
	}
}

func TestVerifyEmailEndpoint(t *testing.T) {
	f := newLocalFixture(t)

	postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
		"email": "verify@example.com", "password": "longenoughpw",
	})
	link := f.emails.lastVerifyLink
	if link == "" {
		t.Fatal("expected verification link")
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	token := u.Query().Get("token")

	req := httptest.NewRequest(http.MethodGet, "/auth/verify-email?token="+token, nil)
	rr := httptest.NewRecorder()
	f.local.HandleVerifyEmail(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	stored, _ := f.store.GetAccountByEmail(req.Context(), "verify@example.com")
	if !stored.EmailVerified {
		t.Error("expected the email to be verified")
	}

	// Reuse fails
	rr = httptest.NewRecorder()
	f.local.HandleVerifyEmail(rr, httptest.NewRequest(http.MethodGet, "/auth/verify-email?token="+token, nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on token reuse, got %d", rr.Code)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newLocalFixture(t)

	postJSON(t, f.local.HandleSignup, "/auth/signup", map[string]any{
		"email": "reset@example.com", "password": "original-pass",
	})

	t.Run("unknown email still succeeds", func(t *testing.T) {
		rr := postJSON(t, f.local.HandleForgotPassword, "/auth/forgot-password", map[string]any{
			"email": "nobody@example.com",
		})
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 for unknown email, got %d", rr.Code)
		}
	})

	rr := postJSON(t, f.local.HandleForgotPassword, "/auth/forgot-password", map[string]any{
		"email": "reset@example.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot-password failed: %d", rr.Code)
	}
	link := f.emails.lastResetLink
	if link == "" {
		t.Fatal("expected reset link")
	}
	u, _ := url.Parse(link)
	token := u.Query().Get("token")

	rr = postJSON(t, f.local.HandleResetPassword, "/auth/reset-password", map[string]any{
		"token": token, "password": "brand-new-pass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reset-password failed: %d: %s", rr.Code, rr.Body.String())
	}

	// Old password dead, new password works
	old := postJSON(t, f.local.ServeHTTP, "/auth/login", map[string]any{
		"email": "reset@example.com", "password": "original-pass",
	})
	if old.Code != http.StatusUnauthorized {
		t.Errorf("old password should fail, got %d", old.Code)
	}
	fresh := postJSON(t, f.local.ServeHTTP, "/auth/login", map[string]any{
		"email": "reset@example.com", "password": "brand-new-pass",
	})
	if fresh.Code != http.StatusOK {
		t.Errorf("new password should log in, got %d", fresh.Code)
	}

	// Token was single use
	rr = postJSON(t, f.local.HandleResetPassword, "/auth/reset-password", map[string]any{
		"token": token, "password": "yet-another-pass",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on token reuse, got %d", rr.Code)
	}
}
