package prodeauth

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

// Auth wires the login surfaces (credentials, OTP, OAuth callbacks) into a
// single router and owns session finalization: once any path resolves an
// Account, Auth mints the JWT and session cookies for it.
type Auth struct {
	router  *mux.Router
	Session *scs.SessionManager

	Middleware Middleware

	// Optional name that can be used as a prefix for all required vars
	AppName string

	// Name of the session variable where the auth token is stored
	AuthTokenSessionVar string

	// Resolver maps successful OAuth callbacks onto canonical accounts.
	Resolver *IdentityResolver

	// All the domains where the auth token cookies will be set on a login success or logout
	CookieDomains []string

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// How long is a session cookie valid for.  Defaults to 1 day
	SessionTimeoutInSeconds int
}

func New(appName string) *Auth {
	return (&Auth{AppName: appName}).EnsureDefaults()
}

func (a *Auth) EnsureDefaults() *Auth {
	// ensure some defaults
	if a.AppName == "" {
		a.AppName = "ProdeAuth"
	}
	if a.SessionTimeoutInSeconds <= 0 {
		a.SessionTimeoutInSeconds = 86400
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.AuthTokenSessionVar == "" {
		a.AuthTokenSessionVar = fmt.Sprintf("%sAuthToken", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("PRODEAUTH_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.AuthTokenSessionVar
	}
	if a.Middleware.VerifyToken == nil {
		a.Middleware.VerifyToken = a.verifyJWT
	}
	return a
}

func (a *Auth) Handler() http.Handler {
	return a.setupRoutes().router
}

// AddAuth mounts a provider handler (eg an OAuth flow) under the given
// prefix, with subtree matching so /google/, /google/callback etc all reach
// it.
func (a *Auth) AddAuth(prefix string, handler http.Handler) *Auth {
	a.setupRoutes()
	a.EnsureDefaults()
	prefix = strings.TrimSuffix(prefix, "/")
	log.Println("Adding Auth for prefix: ", prefix)
	a.router.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, handler))

	// Redirect the bare prefix to prefix/ so StripPrefix never yields an
	// empty path. 308 preserves the method, 301 would turn POSTs into GETs.
	a.router.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		origPath := r.RequestURI
		if idx := strings.Index(origPath, "?"); idx != -1 {
			origPath = origPath[:idx]
		}
		target := origPath + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})

	return a
}

func (a *Auth) setupRoutes() *Auth {
	if a.router == nil {
		a.router = mux.NewRouter()
		a.router.HandleFunc("/logout", a.onLogout)
	}
	return a
}

func (a *Auth) verifyJWT(tokenString string) (loggedInAccountId string, t any, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(a.JWTSecretKey), nil
	})
	if err != nil {
		return "", nil, err
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", nil, fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if sub == "" {
		return "", nil, fmt.Errorf("subject not found")
	} else if err != nil {
		return "", nil, err
	}
	return sub, token, nil
}

func (a *Auth) onLogout(w http.ResponseWriter, r *http.Request) {
	log.Println("Logging out account...")
	a.SetLoggedInAccount(nil, w, r)
	toUrl := r.URL.Query()["to"]
	if len(toUrl) == 0 || toUrl[0] == "" {
		fmt.Fprintf(w, "Logged Out")
	} else {
		http.Redirect(w, r, toUrl[0], http.StatusFound)
	}
}

// SaveAccountAndRedirect is the callback the OAuth handlers invoke with the
// provider token and user info after a successful flow. It resolves the
// canonical account, establishes the session and sends the browser back to
// where it started.
func (a *Auth) SaveAccountAndRedirect(authtype, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request) {
	subject, email, displayName := profileFields(userInfo)
	account, err := a.Resolver.ResolveOAuth(r.Context(), provider, subject, email, displayName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	a.SetLoggedInAccount(account, w, r)

	// Auth done - go back to where we need to be
	callbackURL := "/"
	callbackURLCookie, _ := r.Cookie("oauthCallbackURL")
	if callbackURLCookie != nil {
		callbackURL = callbackURLCookie.Value
	}
	if callbackURL == "" {
		callbackURL = "/"
	}
	u, _ := url.Parse(callbackURL)
	if u != nil && u.Scheme == "" {
		callbackURL = os.Getenv("OAUTH2_BASE_URL") + callbackURL
	}
	log.Println("Redirecting to CallbackURL: ", callbackURL)
	// then delete it too so it wont be used for subsequent redirects
	http.SetCookie(w, &http.Cookie{
		Name:   "oauthCallbackURL",
		Value:  "",
		Path:   "/",
		MaxAge: -1, Expires: time.Now(),
	})
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

// HandleAccount adapts Auth for LocalAuth's post-authentication callback:
// establish the session and answer with the account summary.
func (a *Auth) HandleAccount(authtype string, provider string, account *Account, w http.ResponseWriter, r *http.Request) {
	tokenString := a.SetLoggedInAccount(account, w, r)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"success": true, "id": %q, "email": %q, "token": %q}`, account.ID, account.Email, tokenString)
}

// profileFields pulls the stable subject identifier, email and display name
// out of a provider userinfo document. Google uses "id", OIDC-shaped
// responses use "sub".
func profileFields(userInfo map[string]any) (subject, email, displayName string) {
	if v, ok := userInfo["id"].(string); ok && v != "" {
		subject = v
	} else if v, ok := userInfo["sub"].(string); ok {
		subject = v
	}
	email, _ = userInfo["email"].(string)
	displayName, _ = userInfo["name"].(string)
	return
}

// SetLoggedInAccount sets the auth token and logged in account ID cookies on
// the domains we care about. Passing nil unsets them, logging the account
// out.
func (a *Auth) SetLoggedInAccount(account *Account, w http.ResponseWriter, r *http.Request) string {
	a.EnsureDefaults()
	domains := a.CookieDomains
	if slices.Index(a.CookieDomains, "") < 0 { // default domain
		domains = append(domains, "")
	}
	for _, cookieDomain := range domains {
		http.SetCookie(w, &http.Cookie{
			Name:   "oauthstate",
			Value:  "",
			MaxAge: -1, Expires: time.Now(),
			Domain: cookieDomain,
			Path:   "/",
		})

		if account != nil {
			if a.Session != nil {
				a.Session.Put(r.Context(), "loggedInAccountId", account.ID)
			}
			http.SetCookie(w, &http.Cookie{
				Name:    "loggedInAccountId",
				Value:   account.ID,
				Domain:  cookieDomain,
				Path:    "/",
				Expires: time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
			})

			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": account.ID,
				"iss": a.JwtIssuer,
				"aud": strings.Join(account.Providers(), ","),
				"exp": time.Now().Add(time.Hour).Unix(),
				"iat": time.Now().Unix(),
			})
			tokenString, err := token.SignedString([]byte(a.JWTSecretKey))
			if err != nil {
				slog.Info("error signing token", "err", err)
			}

			if a.Session != nil {
				a.Session.Put(r.Context(), a.AuthTokenSessionVar, tokenString)
			}
			http.SetCookie(w, &http.Cookie{
				Name:    a.AuthTokenSessionVar,
				Value:   tokenString,
				Domain:  cookieDomain,
				Path:    "/",
				Expires: time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
			})
			return tokenString
		} else {
			// clear the session and cookie values
			log.Println("Logging out account")
			if a.Session != nil {
				if err := a.Session.Clear(r.Context()); err != nil {
					slog.Warn("error clearing session ", "err", err)
				}
			}
			http.SetCookie(w, &http.Cookie{
				Name:    "loggedInAccountId",
				Domain:  cookieDomain,
				Path:    "/",
				MaxAge:  -1,
				Expires: time.Now(),
			})
			http.SetCookie(w, &http.Cookie{
				Name:    a.AuthTokenSessionVar,
				Domain:  cookieDomain,
				Path:    "/",
				MaxAge:  -1,
				Expires: time.Now(),
			})
		}
	}
	return ""
}
