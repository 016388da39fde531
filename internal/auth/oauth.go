package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/gitreports/internal/apperror"
)

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the user to GitHub's authorization endpoint with our ClientID,
//     the requested scopes and a state value.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to the callback URL with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server, using the
//     ClientSecret). The token never touches the browser.
type GitHubProvider struct {
	config *oauth2.Config
	client *http.Client // nil means oauth2's default
}

// ProviderOption customizes a GitHubProvider.
type ProviderOption func(*GitHubProvider)

// WithEndpoint overrides GitHub's OAuth endpoints (GitHub Enterprise, tests).
func WithEndpoint(e oauth2.Endpoint) ProviderOption {
	return func(p *GitHubProvider) { p.config.Endpoint = e }
}

// WithHTTPClient sets the client used for the token exchange. It owns the
// timeout for that call.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *GitHubProvider) { p.client = c }
}

// EndpointFor returns the OAuth endpoints of a GitHub host: https://github.com
// or a GitHub Enterprise server.
func EndpointFor(baseURL string) oauth2.Endpoint {
	baseURL = strings.TrimRight(baseURL, "/")
	return oauth2.Endpoint{
		AuthURL:  baseURL + "/login/oauth/authorize",
		TokenURL: baseURL + "/login/oauth/access_token",
	}
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// Scopes we request:
//   - "read:user" — the user's public profile (ID, login, name, avatar)
//   - "repo"      — the repositories the user can see, private ones included
//   - "read:org"  — organization membership, so org repositories are listed
func NewGitHubProvider(clientID, clientSecret, callbackURL string, opts ...ProviderOption) *GitHubProvider {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       []string{"read:user", "repo", "read:org"},
		Endpoint:     github.Endpoint,
	}
	p := &GitHubProvider{config: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL returns the URL to redirect the user to for authorization.
// state must be the nonce issued by StateService for this login attempt.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an access token.
//
// A throttled token endpoint is reported as apperror.ErrRateLimited so the
// callback can show the heavy-traffic page instead of a generic failure.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (string, error) {
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && apperror.IsGitHubRateLimitResponse(re.Response, re.Body) {
			return "", apperror.RateLimited(fmt.Errorf("auth: exchanging OAuth code: %w", err))
		}
		return "", fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("auth: token endpoint returned an empty access token")
	}
	return token.AccessToken, nil
}
