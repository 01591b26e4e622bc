// A small host app exercising every login surface: password signup and
// login, emailed one-time codes, Google and GitHub OAuth, email
// verification and password reset. Codes and links are printed to the
// console instead of being mailed.
//
// OAuth needs OAUTH2_GOOGLE_CLIENT_ID / OAUTH2_GOOGLE_CLIENT_SECRET (and
// the GitHub equivalents) in the environment; the other flows work with
// no configuration at all.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/alexedwards/scs/v2"
	auth "github.com/gvinokur/qatar-prode-sub000"
	prodeoauth "github.com/gvinokur/qatar-prode-sub000/oauth2"
	"github.com/gvinokur/qatar-prode-sub000/stores/fs"
)

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func main() {
	addr := envOr("PRODEAUTH_DEMO_ADDR", ":7777")
	baseURL := envOr("OAUTH2_BASE_URL", "http://localhost"+addr)

	store := fs.NewFSAccountStore(envOr("PRODEAUTH_DEMO_STORAGE", "/tmp/prodeauth-demo"))
	hasher := &auth.BcryptHasher{}
	resolver := auth.NewIdentityResolver(store, hasher)

	session := scs.New()
	authn := auth.New("ProdeDemo")
	authn.Session = session
	authn.Resolver = resolver
	authn.Middleware.SessionGetter = func(r *http.Request, param string) any {
		return session.Get(r.Context(), param)
	}

	local := &auth.LocalAuth{
		Store:         store,
		Resolver:      resolver,
		OTP:           auth.NewOTPEngine(store),
		Tokens:        auth.NewTokenLifecycle(store),
		Hasher:        hasher,
		EmailSender:   &auth.ConsoleEmailSender{},
		BaseURL:       baseURL,
		HandleAccount: authn.HandleAccount,
	}

	authn.AddAuth("/google", prodeoauth.NewGoogleOAuth2("", "", baseURL+"/auth/google/callback/", authn.SaveAccountAndRedirect).Handler())
	authn.AddAuth("/github", prodeoauth.NewGithubOAuth2("", "", baseURL+"/auth/github/callback/", authn.SaveAccountAndRedirect).Handler())

	mux := http.NewServeMux()
	mux.Handle("/auth/login", local)
	mux.HandleFunc("/auth/signup", local.HandleSignup)
	mux.HandleFunc("/auth/otp/request", local.HandleRequestOTP)
	mux.HandleFunc("/auth/otp/verify", local.HandleVerifyOTP)
	mux.HandleFunc("/auth/verify-email", local.HandleVerifyEmail)
	mux.HandleFunc("/auth/forgot-password", local.HandleForgotPassword)
	mux.HandleFunc("/auth/reset-password", local.HandleResetPassword)
	mux.Handle("/auth/", http.StripPrefix("/auth", authn.Handler()))

	mux.Handle("/me", authn.Middleware.EnsureAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountId := authn.Middleware.GetLoggedInAccountId(r)
		account, err := store.GetAccount(r.Context(), accountId)
		if err != nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %q, "email": %q, "verified": %v, "providers": %q}`,
			account.ID, account.Email, account.EmailVerified, account.Providers())
	})))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "prodeauth demo. POST /auth/signup, /auth/login, /auth/otp/request, /auth/otp/verify; GET /auth/google, /auth/github, /me")
	})

	log.Println("Listening on", addr)
	log.Fatal(http.ListenAndServe(addr, session.LoadAndSave(mux)))
}
