package prodeauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// HandleAccountFunc is called after a successful authentication so the host
// application can establish a session and respond.
type HandleAccountFunc func(authtype string, provider string, account *Account, w http.ResponseWriter, r *http.Request)

// Allows email/password and email/OTP based authentication
type LocalAuth struct {
	// Store backs explicit signup (account creation with a password).
	Store AccountStore

	// Resolver authenticates credentials logins.
	Resolver *IdentityResolver

	// OTP drives the emailed one-time-code flow.
	OTP *OTPEngine

	// Tokens drives email verification and password reset.
	Tokens *TokenLifecycle

	// Hasher transforms plaintext passwords for signup and reset.
	Hasher CredentialHasher

	// Optional email sender for codes, verification and reset links
	EmailSender SendEmail

	// Base URL for generating verification/reset links
	BaseURL string

	// Minimum password length for signup and reset. Defaults to 8.
	MinPasswordLength int

	// Form field names
	EmailField    string
	PasswordField string
	CodeField     string

	// Handler called after successful authentication
	HandleAccount HandleAccountFunc

	// OnLoginError is called when login fails. If nil, returns JSON error.
	OnLoginError AuthErrorHandler

	// OnSignupError is called when signup fails. If nil, returns JSON error.
	OnSignupError AuthErrorHandler
}

func (a *LocalAuth) getEmailField() string {
	if a.EmailField != "" {
		return a.EmailField
	}
	return "email"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *LocalAuth) getCodeField() string {
	if a.CodeField != "" {
		return a.CodeField
	}
	return "code"
}

func (a *LocalAuth) minPasswordLength() int {
	if a.MinPasswordLength > 0 {
		return a.MinPasswordLength
	}
	return 8
}

// ServeHTTP handles credentials login requests
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.Resolver == nil {
		http.Error(w, `{"error": "Login not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, a.getEmailField(), a.getPasswordField())
	if err != nil {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, err.Error(), a.getEmailField()), w, r)
		return
	}
	email, password := fields[0], fields[1]
	if email == "" || password == "" {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, "email and password required", a.getEmailField()), w, r)
		return
	}

	account, err := a.Resolver.ResolveCredentials(r.Context(), email, password)
	if err != nil {
		// One message for unknown email and wrong password alike.
		a.handleLoginError(NewAuthError(ErrCodeInvalidCreds, "Invalid credentials", a.getPasswordField()), w, r)
		return
	}

	a.HandleAccount("local", ProviderCredentials, account, w, r)
}

// HandleSignup processes explicit registration with a password
func (a *LocalAuth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil || a.Hasher == nil {
		http.Error(w, `{"error": "Signup not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, a.getEmailField(), a.getPasswordField(), "display_name")
	if err != nil {
		a.handleSignupError(NewAuthError(ErrCodeMissingField, err.Error(), ""), w, r)
		return
	}
	email, password, displayName := NormalizeEmail(fields[0]), fields[1], fields[2]

	if err := ValidateEmail(email); err != nil {
		a.handleSignupError(NewAuthError(ErrCodeInvalidEmail, "Invalid email format", a.getEmailField()), w, r)
		return
	}
	if len(password) < a.minPasswordLength() {
		msg := fmt.Sprintf("Password must be at least %d characters", a.minPasswordLength())
		a.handleSignupError(NewAuthError(ErrCodeWeakPassword, msg, a.getPasswordField()), w, r)
		return
	}

	hash, err := a.Hasher.Hash(password)
	if err != nil {
		log.Println("error hashing password: ", err)
		a.handleSignupError(NewAuthError("create_failed", "Failed to create account", ""), w, r)
		return
	}

	now := time.Now()
	account, err := a.Store.CreateAccount(r.Context(), &Account{
		ID:               NewAccountID(),
		Email:            email,
		DisplayName:      displayName,
		NicknameRequired: displayName == "",
		PasswordHash:     hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if errors.Is(err, ErrEmailTaken) {
		a.handleSignupError(NewAuthError(ErrCodeEmailExists, "email already registered", a.getEmailField()), w, r)
		return
	}
	if err != nil {
		log.Println("error creating account: ", err)
		a.handleSignupError(NewAuthError("create_failed", "Failed to create account", ""), w, r)
		return
	}

	// Send verification email if configured
	if a.EmailSender != nil && a.Tokens != nil && a.BaseURL != "" {
		token, err := a.Tokens.IssueVerificationToken(r.Context(), account.ID)
		if err != nil {
			log.Println("error creating verification token: ", err)
		} else {
			verificationLink := fmt.Sprintf("%s/auth/verify-email?token=%s", a.BaseURL, token)
			if err := a.EmailSender.SendVerificationEmail(account.Email, verificationLink); err != nil {
				log.Println("error sending verification email: ", err)
			}
		}
	}

	a.HandleAccount("local", ProviderCredentials, account, w, r)
}

// HandleRequestOTP issues a one-time code and mails it (POST)
func (a *LocalAuth) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	if a.OTP == nil {
		http.Error(w, `{"error": "OTP login not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, a.getEmailField())
	if err != nil || fields[0] == "" {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, "email required", a.getEmailField()), w, r)
		return
	}

	account, err := a.OTP.RequestCode(r.Context(), fields[0])
	if err != nil {
		var rl *RateLimitedError
		switch {
		case errors.As(err, &rl):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":               "Code requested too recently",
				"code":                ErrCodeRateLimited,
				"retry_after_seconds": int(rl.RetryAfter.Seconds() + 0.5),
			})
		case errors.Is(err, ErrInvalidEmail):
			a.handleLoginError(NewAuthError(ErrCodeInvalidEmail, "Invalid email format", a.getEmailField()), w, r)
		default:
			log.Println("error requesting otp code: ", err)
			http.Error(w, `{"error": "Failed to request code"}`, http.StatusInternalServerError)
		}
		return
	}

	// Delivery failure does not invalidate the issued code: it stays
	// redeemable until it expires or a later request supersedes it.
	if a.EmailSender != nil {
		if err := a.EmailSender.SendOTPEmail(account.Email, account.OTPCode); err != nil {
			log.Printf("Error sending otp email: %v", err)
			http.Error(w, `{"error": "Failed to send code"}`, http.StatusBadGateway)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "If that email exists, a sign-in code has been sent",
	})
}

// HandleVerifyOTP verifies a code, finalizes sign-in, then clears the code
func (a *LocalAuth) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if a.OTP == nil {
		http.Error(w, `{"error": "OTP login not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, a.getEmailField(), a.getCodeField())
	if err != nil || fields[0] == "" || fields[1] == "" {
		a.handleLoginError(NewAuthError(ErrCodeMissingField, "email and code required", a.getCodeField()), w, r)
		return
	}

	account, err := a.OTP.VerifyCode(r.Context(), fields[0], fields[1])
	if err != nil {
		a.handleLoginError(otpAuthError(err, a.getCodeField()), w, r)
		return
	}

	// The code stays active while the session is established; only then is
	// it retired. A concurrent verify in this window also succeeds.
	a.HandleAccount("local", ProviderOTP, account, w, r)

	if _, err := a.OTP.ClearCode(r.Context(), account.ID); err != nil {
		log.Printf("Warning: failed to clear otp code for %s: %v", account.ID, err)
	}
}

func otpAuthError(err error, codeField string) *AuthError {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	case errors.Is(err, ErrInvalidOTPFormat):
		return NewAuthError(ErrCodeMismatch, "Code must be 6 digits", codeField)
	case errors.Is(err, ErrAccountNotFound):
		return NewAuthError(ErrCodeNotFound, "No account for that email", "email")
	case errors.Is(err, ErrNoActiveCode):
		return NewAuthError(ErrCodeNoActiveCode, "No active code; request a new one", codeField)
	case errors.Is(err, ErrOTPExpired):
		return NewAuthError(ErrCodeExpired, "Code expired; request a new one", codeField)
	case errors.Is(err, ErrTooManyOTPAttempts):
		return NewAuthError(ErrCodeTooManyAttempts, "Too many attempts; request a new code", codeField)
	case errors.Is(err, ErrOTPMismatch):
		return NewAuthError(ErrCodeMismatch, "Incorrect code", codeField)
	default:
		return NewAuthError("verify_failed", "Failed to verify code", "")
	}
}

// HandleVerifyEmail handles email verification via token
func (a *LocalAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if a.Tokens == nil {
		http.Error(w, `{"error": "Email verification not configured"}`, http.StatusInternalServerError)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, `{"error": "Token required"}`, http.StatusBadRequest)
		return
	}

	if _, err := a.Tokens.RedeemVerificationToken(r.Context(), token); err != nil {
		http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "Email verified successfully",
	})
}

// HandleForgotPassword handles forgot password requests (POST)
func (a *LocalAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if a.Tokens == nil || a.EmailSender == nil || a.Store == nil {
		http.Error(w, `{"error": "Password reset not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, a.getEmailField())
	if err != nil || fields[0] == "" {
		http.Error(w, `{"error": "Email required"}`, http.StatusBadRequest)
		return
	}
	email := NormalizeEmail(fields[0])

	// For security, always return success even if the email doesn't exist.
	account, err := a.Store.GetAccountByEmail(r.Context(), email)
	if err == nil {
		token, err := a.Tokens.IssueResetToken(r.Context(), account.ID)
		if err != nil {
			log.Printf("Error creating reset token: %v", err)
		} else {
			resetLink := fmt.Sprintf("%s/auth/reset-password?token=%s", a.BaseURL, token)
			if err := a.EmailSender.SendPasswordResetEmail(email, resetLink); err != nil {
				log.Printf("Error sending reset email: %v", err)
			}
		}
	} else if !errors.Is(err, ErrAccountNotFound) {
		log.Printf("Error looking up account for reset: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "If that email exists, a reset link has been sent",
	})
}

// HandleResetPassword handles password reset submissions (POST)
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	if a.Tokens == nil || a.Hasher == nil {
		http.Error(w, `{"error": "Password reset not configured"}`, http.StatusInternalServerError)
		return
	}

	fields, err := a.parseFields(r, "token", a.getPasswordField())
	if err != nil {
		http.Error(w, `{"error": "Invalid form data"}`, http.StatusBadRequest)
		return
	}
	token, password := fields[0], fields[1]
	if token == "" || password == "" {
		http.Error(w, `{"error": "Token and password required"}`, http.StatusBadRequest)
		return
	}
	if len(password) < a.minPasswordLength() {
		msg := fmt.Sprintf(`{"error": "Password must be at least %d characters"}`, a.minPasswordLength())
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	hash, err := a.Hasher.Hash(password)
	if err != nil {
		http.Error(w, `{"error": "Failed to reset password"}`, http.StatusInternalServerError)
		return
	}

	account, err := a.Tokens.RedeemResetToken(r.Context(), token, hash)
	if err != nil {
		http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "Password reset successfully",
		"email":   account.Email,
	})
}

// parseFields reads the named fields from a form or JSON body.
func (a *LocalAuth) parseFields(r *http.Request, names ...string) ([]string, error) {
	out := make([]string, len(names))
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
		for i, name := range names {
			out[i] = r.FormValue(name)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, fmt.Errorf("invalid post body")
	}
	for i, name := range names {
		if v, ok := data[name].(string); ok {
			out[i] = v
		}
	}
	return out, nil
}

// handleLoginError handles login errors using the configured handler or default JSON
func (a *LocalAuth) handleLoginError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnLoginError != nil && a.OnLoginError(err, w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	// 400 for validation errors, 401 for failed security checks
	statusCode := http.StatusUnauthorized
	if err.Code == ErrCodeMissingField || err.Code == ErrCodeInvalidEmail {
		statusCode = http.StatusBadRequest
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(err)
}

// handleSignupError handles signup errors using the configured handler or default JSON
func (a *LocalAuth) handleSignupError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnSignupError != nil && a.OnSignupError(err, w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(err)
}
