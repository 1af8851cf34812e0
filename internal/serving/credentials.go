package serving

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCredentials is returned when a provider has nothing to authenticate with.
var ErrNoCredentials = errors.New("serving: no credentials available") //nolint:gochecknoglobals // sentinel error

// Header carrying the end user's token when the app runs behind a proxy that
// forwards it.
const HeaderForwardedAccessToken = "X-Forwarded-Access-Token"

const oauthScopeAllAPIs = "all-apis"

// Credentials identify a workspace and authenticate against it.
type Credentials struct {
	Host  string
	Token string
}

// CredentialProvider resolves credentials for one upstream call. inbound is
// the header set of the request that triggered the call; it may be nil.
type CredentialProvider interface {
	Credentials(ctx context.Context, inbound http.Header) (Credentials, error)
}

// NormalizeHost trims host and prefixes https:// when no scheme is given.
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}

// EnvCredentials is a fixed host/token pair, normally read from
// DATABRICKS_HOST and DATABRICKS_TOKEN.
type EnvCredentials struct {
	Host  string
	Token string
}

func (c EnvCredentials) Credentials(_ context.Context, _ http.Header) (Credentials, error) {
	host := NormalizeHost(c.Host)
	if host == "" || c.Token == "" {
		return Credentials{}, fmt.Errorf("serving.EnvCredentials: %w", ErrNoCredentials)
	}
	return Credentials{Host: host, Token: c.Token}, nil
}

// ForwardedTokenCredentials calls upstream as the end user. The token comes
// from X-Forwarded-Access-Token, or from the inbound bearer token.
type ForwardedTokenCredentials struct {
	Host string
}

func (c ForwardedTokenCredentials) Credentials(_ context.Context, inbound http.Header) (Credentials, error) {
	host := NormalizeHost(c.Host)
	if host == "" {
		return Credentials{}, fmt.Errorf("serving.ForwardedTokenCredentials: host: %w", ErrNoCredentials)
	}

	token := strings.TrimSpace(inbound.Get(HeaderForwardedAccessToken))
	if token == "" {
		if bearer, ok := strings.CutPrefix(inbound.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(bearer)
		}
	}
	if token == "" {
		return Credentials{}, fmt.Errorf("serving.ForwardedTokenCredentials: token: %w", ErrNoCredentials)
	}

	return Credentials{Host: host, Token: token}, nil
}

// OAuthCredentials authenticates as a service principal using the OAuth
// client credentials flow. Tokens are cached and refreshed by the underlying
// token source.
type OAuthCredentials struct {
	host string
	ts   oauth2.TokenSource
}

// NewOAuthCredentials builds a token source against {host}/oidc/v1/token.
// ctx is retained by the token source for its HTTP client; pass a context
// that lives as long as the provider.
func NewOAuthCredentials(ctx context.Context, host, clientID, clientSecret string) *OAuthCredentials {
	host = NormalizeHost(host)
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     host + "/oidc/v1/token",
		Scopes:       []string{oauthScopeAllAPIs},
	}
	return &OAuthCredentials{host: host, ts: cfg.TokenSource(ctx)}
}

func (c *OAuthCredentials) Credentials(_ context.Context, _ http.Header) (Credentials, error) {
	if c.host == "" {
		return Credentials{}, fmt.Errorf("serving.OAuthCredentials: host: %w", ErrNoCredentials)
	}

	tok, err := c.ts.Token()
	if err != nil {
		return Credentials{}, fmt.Errorf("serving.OAuthCredentials: %w", err)
	}

	return Credentials{Host: c.host, Token: tok.AccessToken}, nil
}

// ChainCredentials returns the first credentials any provider yields.
type ChainCredentials []CredentialProvider

func (c ChainCredentials) Credentials(ctx context.Context, inbound http.Header) (Credentials, error) {
	var errs []error
	for _, p := range c {
		creds, err := p.Credentials(ctx, inbound)
		if err == nil {
			return creds, nil
		}
		log.Debug().Err(err).Msg("serving: credential provider failed, trying next")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Credentials{}, fmt.Errorf("serving.ChainCredentials: %w", ErrNoCredentials)
	}
	return Credentials{}, fmt.Errorf("serving.ChainCredentials: %w", errors.Join(errs...))
}
