package apperror

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v48/github"
)

// FromGitHub classifies an error returned by the GitHub client: throttling
// becomes RateLimited, anything else is returned unchanged.
func FromGitHub(err error) error {
	if err == nil {
		return nil
	}
	if IsGitHubRateLimit(err) {
		return RateLimited(err)
	}
	return err
}

// IsGitHubRateLimit reports whether err is GitHub throttling the caller:
// the primary limit (RateLimitError), the secondary limit
// (AbuseRateLimitError), or a bare 429.
//
// A 403 whose message names the secondary limit counts too; GitHub does not
// always send the documentation URL go-github keys the abuse error on.
func IsGitHubRateLimit(err error) bool {
	var (
		primary   *github.RateLimitError
		secondary *github.AbuseRateLimitError
		resp      *github.ErrorResponse
	)
	switch {
	case errors.As(err, &primary), errors.As(err, &secondary):
		return true
	case errors.As(err, &resp) && resp.Response != nil:
		switch resp.Response.StatusCode {
		case http.StatusTooManyRequests:
			return true
		case http.StatusForbidden:
			return strings.Contains(strings.ToLower(resp.Message), "secondary rate limit")
		}
	}
	return false
}

// IsGitHubRateLimitResponse classifies a raw GitHub response whose body has
// already been read, such as the one carried by an oauth2.RetrieveError.
func IsGitHubRateLimitResponse(resp *http.Response, body []byte) bool {
	if resp == nil {
		return false
	}
	r := *resp
	r.Body = io.NopCloser(bytes.NewReader(body))
	return IsGitHubRateLimit(github.CheckResponse(&r))
}
