package prodeauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type accountParamNameKey string

// Middleware extracts the logged in account from a request, checking the
// request context, the session, then bearer tokens from header or cookie.
type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	AccountParamName    string
	CallbackURLParam    string
	SessionGetter       func(r *http.Request, param string) any
	GetRedirURL         func(r *http.Request) string
	DefaultRedirectURL  string
	VerifyToken         func(tokenString string) (loggedInAccountId string, token any, err error)
}

func (a *Middleware) EnsureReasonableDefaults() {
	if a.AccountParamName == "" {
		a.AccountParamName = "loggedInAccountId"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "/"
	}
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
}

// GetLoggedInAccountId returns the ID of the logged in account for the
// current request, or "" if no credential checks out.
func (a *Middleware) GetLoggedInAccountId(r *http.Request) string {
	v := r.Context().Value(accountParamNameKey(a.AccountParamName))
	if v != nil {
		loggedInAccountId := v.(string)
		if loggedInAccountId != "" {
			return loggedInAccountId
		}
	}

	if a.SessionGetter != nil {
		accountParam := a.SessionGetter(r, a.AccountParamName)
		if accountParam != "" && accountParam != nil {
			return accountParam.(string)
		}
	}

	if a.VerifyToken == nil {
		slog.Warn("No auth token verifier found.  Please set one")
		return ""
	}

	// Otherwise check the Auth header, then cookies for non-api calls
	authTokens := r.Header.Values(a.AuthTokenHeaderName)
	if a.AuthTokenCookieName != "" {
		for _, cookie := range r.Cookies() {
			if cookie.Name == a.AuthTokenCookieName && len(cookie.Value) > 0 {
				authTokens = append(authTokens, cookie.Value)
			}
		}
	}

	for _, authToken := range authTokens {
		authToken = strings.TrimPrefix(authToken, "Bearer ")
		loggedInAccountId, _, err := a.VerifyToken(authToken)
		if err == nil && loggedInAccountId != "" {
			return loggedInAccountId
		} else if err != nil {
			slog.Warn("Error verifying token: ", "error", err)
		}
	}
	return ""
}

// ExtractAccount loads the logged in account ID into the request context for
// downstream handlers. It never redirects; use EnsureAccount for that.
func (a *Middleware) ExtractAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			accountParam := a.GetLoggedInAccountId(r)
			next.ServeHTTP(w, a.setLoggedInAccountId(accountParam, r))
		},
	)
}

// EnsureAccount is ExtractAccount plus enforcement: requests with no logged
// in account are redirected to login (or get a 401 if no redirect URL is
// configured).
func (a *Middleware) EnsureAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			accountParam := a.GetLoggedInAccountId(r)
			if accountParam == "" {
				redirUrl := ""
				if a.GetRedirURL != nil {
					redirUrl = a.GetRedirURL(r)
				}
				if redirUrl != "" {
					originalUrl := r.URL.Path
					encodedUrl := strings.Replace(url.QueryEscape(originalUrl), "+", "%20", -1)
					fullRedirUrl := fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encodedUrl)
					http.Redirect(w, r, fullRedirUrl, http.StatusFound)
				} else {
					http.Error(w, "Login Failed", http.StatusUnauthorized)
				}
				return
			}
			next.ServeHTTP(w, a.setLoggedInAccountId(accountParam, r))
		},
	)
}

// setLoggedInAccountId makes the account ID available to downstream handlers
// via the request context.
func (a *Middleware) setLoggedInAccountId(accountId string, r *http.Request) *http.Request {
	contextWithAccount := context.WithValue(r.Context(), accountParamNameKey(a.AccountParamName), accountId)
	return r.WithContext(contextWithAccount)
}
