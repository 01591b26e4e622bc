package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// BaseOAuth2 holds the pieces common to every provider flow: the oauth2
// config, the redirect handler, and the hooks providers and tests use to
// override endpoints and transport.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// HandleUser is called with the token and userinfo on success.
	HandleUser HandleUserFunc

	// HTTPClient, if set, is used for userinfo fetches and token exchange.
	// Nil means http.DefaultClient. Tests inject their mock server's client.
	HTTPClient *http.Client

	// AuthFailureUrl is where the browser is sent when the callback fails.
	AuthFailureUrl string

	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string, handleUser HandleUserFunc) *BaseOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_CALLBACK_URL"))
	}
	out := &BaseOAuth2{
		ClientId:       clientId,
		ClientSecret:   clientSecret,
		CallbackURL:    callbackUrl,
		HandleUser:     handleUser,
		AuthFailureUrl: "/auth/fail/",
		mux:            http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
	out.mux.HandleFunc("/", OauthRedirector(&out.oauthConfig))
	return out
}

// Handler returns the http.Handler serving this provider's flow: "/" starts
// the redirect, "/callback/" (registered by the provider) finishes it.
func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

// SetOAuthEndpoint overrides the provider's auth/token endpoints. Tests
// point this at a mock server.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient injects the client used for token exchange and userinfo
// fetches.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// ExchangeContext returns the context to use for the code exchange, carrying
// the injected HTTP client if one was set.
func (b *BaseOAuth2) ExchangeContext() context.Context {
	ctx := context.Background()
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}
