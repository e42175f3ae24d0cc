package providers

import (
	"context"
	"net/http"
)

// Identity represents the claims returned from an external authentication provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
	RawClaims     map[string]any
}

// BeginAuthRequest captures the values required to start an external auth flow.
type BeginAuthRequest struct {
	State       string
	Nonce       string
	RedirectURL string
}

// CallbackRequest captures the raw HTTP details posted back by an external provider.
type CallbackRequest struct {
	State          string
	ExpectedNonce  string
	RawHTTPRequest *http.Request
}

// OAuthProvider defines the behaviour required for a redirect-based sign-in provider.
type OAuthProvider interface {
	Name() string
	Begin(ctx context.Context, req BeginAuthRequest) (string, error)
	Callback(ctx context.Context, req CallbackRequest) (*Identity, error)
}
