// Package github fetches the remote snapshot for a login: the authenticated
// identity plus every repository it can see, annotated with its owner.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

const perPage = 100

// Client calls the GitHub REST API on behalf of one access token per call.
type Client struct {
	baseURL *url.URL
	base    *http.Client
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the transport-level client the OAuth2 client wraps.
// It owns the network timeout policy.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.base = c }
}

// NewClient creates a Client against baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("github: parsing API URL %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL: u,
		base:    http.DefaultClient,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newAPI builds a go-github client that authenticates as accessToken.
func (c *Client) newAPI(ctx context.Context, accessToken string) *github.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})

	api := github.NewClient(oauth2.NewClient(ctx, ts))
	api.BaseURL = c.baseURL
	return api
}

// FetchSnapshot returns the identity and the complete repository listing for
// accessToken.
//
// Repositories are listed with affiliation=owner,organization_member, so a
// repository owned by a "User" is always the authenticated user's own. If
// GitHub ever returns a user-owned repository belonging to someone else it is
// skipped: it has no owner this service can record.
//
// Any failed page aborts the whole fetch; a partial listing would make the
// reconciler delete repositories that merely were not fetched.
func (c *Client) FetchSnapshot(ctx context.Context, accessToken string) (*model.Snapshot, error) {
	api := c.newAPI(ctx, accessToken)

	me, _, err := api.Users.Get(ctx, "")
	if err != nil {
		return nil, apperror.FromGitHub(fmt.Errorf("github: fetching user: %w", err))
	}
	if me.GetID() == 0 {
		return nil, fmt.Errorf("github: /user returned an invalid user (ID = 0)")
	}

	snap := &model.Snapshot{
		Identity: model.RemoteIdentity{
			GitHubID:  me.GetID(),
			Login:     me.GetLogin(),
			Name:      me.GetName(),
			AvatarURL: me.GetAvatarURL(),
		},
	}

	opts := &github.RepositoryListOptions{
		Affiliation: "owner,organization_member",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		repos, resp, err := api.Repositories.List(ctx, "", opts)
		if err != nil {
			return nil, apperror.FromGitHub(fmt.Errorf("github: listing repositories (page %d): %w", opts.Page, err))
		}

		for _, r := range repos {
			remote, ok := toRemote(r, me.GetID())
			if !ok {
				c.logger.Debug("skipping repository with foreign user owner",
					slog.Int64("githubID", r.GetID()),
					slog.String("owner", r.GetOwner().GetLogin()),
				)
				continue
			}
			snap.Repositories = append(snap.Repositories, remote)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return snap, nil
}

func toRemote(r *github.Repository, selfID int64) (model.RemoteRepository, bool) {
	remote := model.RemoteRepository{GitHubID: r.GetID(), Name: r.GetName()}
	owner := r.GetOwner()
	switch {
	case owner.GetType() == "Organization":
		remote.Owner = model.RemoteOwner{Kind: model.OwnerOrganization, OrgName: owner.GetLogin()}
	case owner.GetID() == selfID:
		remote.Owner = model.RemoteOwner{Kind: model.OwnerUser}
	default:
		return remote, false
	}
	return remote, true
}
