package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/auth"
)

// Authorizer builds the GitHub authorization URL. *auth.GitHubProvider
// implements it.
type Authorizer interface {
	AuthURL(state string) string
}

// AuthHandler manages the GitHub OAuth login flow and session management.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin    → start a login attempt, redirect to GitHub
//   - HandleGitHubCallback → verify state, run the login, issue the session cookie
//   - HandleLogout         → clear the session cookie
//   - HandleMe             → return the currently logged-in user's profile
//
// DEPENDENCY CHAIN:
//   - accounts Accounts            → code exchange, reconciliation, reads
//   - github   Authorizer          → builds the redirect URL
//   - states   *auth.StateService  → per-attempt signed state
//   - tokens   *auth.TokenService  → session lifetime for the cookie
type AuthHandler struct {
	accounts     Accounts
	github       Authorizer
	states       *auth.StateService
	tokens       *auth.TokenService
	pages        *Pages
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(
	accounts Accounts,
	github Authorizer,
	states *auth.StateService,
	tokens *auth.TokenService,
	pages *Pages,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		github:       github,
		states:       states,
		tokens:       tokens,
		pages:        pages,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// StateService issues a nonce (sent to GitHub as ?state=) and a signed ticket
// binding that nonce to an expiry. The ticket goes into a short-lived cookie;
// the callback checks that GitHub echoed the same nonce. No server memory holds
// the attempt, so any instance can finish the login.
//
// The state cookie is:
//   - HttpOnly: JavaScript can't read it
//   - SameSite=Lax: sent on the top-level redirect back from GitHub
//   - 10-minute expiry, matching the ticket's own expiry
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.states.Issue()
	if err != nil {
		h.logger.Error("auth login: issuing state failed", slog.String("error", err.Error()))
		h.pages.renderError(w, http.StatusInternalServerError, MsgTryAgain)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookie,
		Value:    attempt.Ticket,
		Path:     "/",
		Expires:  attempt.ExpiresAt,
		MaxAge:   int(auth.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(attempt.State), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy (also /github_callback)
//
// FLOW:
//  1. Verify the state against the ticket cookie; nothing else runs on mismatch
//  2. Honour a GitHub-side denial (?error=access_denied)
//  3. LoginWithCode: exchange, fetch, reconcile, issue JWT
//  4. Set the session cookie and redirect to /?login=ok
//
// Outcomes map to pages: state problems → 400, GitHub throttling → 429 with
// the heavy-traffic notice, anything else → 500. Only the generic message is
// shown; the cause is logged.
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// The ticket is single-use whatever happens next.
	var ticket string
	if c, err := r.Cookie(auth.StateCookie); err == nil {
		ticket = c.Value
	}
	clearCookie(w, auth.StateCookie)

	// --- Step 1: Validate CSRF state ---
	if err := h.states.Verify(ticket, r.URL.Query().Get("state")); err != nil {
		h.logger.Warn("auth callback: state rejected", slog.String("error", err.Error()))
		h.pages.renderError(w, http.StatusBadRequest, MsgTryAgain)
		return
	}

	// --- Step 2: GitHub reported an error (user denied authorization) ---
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?login=denied", http.StatusSeeOther)
		return
	}

	// --- Step 3: Log in and reconcile ---
	res, err := h.accounts.LoginWithCode(r.Context(), r.URL.Query().Get("code"))
	switch {
	case errors.Is(err, apperror.ErrRateLimited):
		h.pages.renderError(w, http.StatusTooManyRequests, MsgHeavyTraffic)
		return
	case err != nil:
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		h.pages.renderError(w, http.StatusInternalServerError, MsgTryAgain)
		return
	}

	// --- Step 4: Issue the session cookie ---
	// HttpOnly = JavaScript cannot read this cookie (XSS protection).
	// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/?login=ok", http.StatusSeeOther)
}

// HandleLogout clears the session cookie, effectively logging the user out.
//
// HTTP: GET /logout
//
// Since sessions are stateless (JWT), "logout" just means deleting the
// client-side cookie. The token remains technically valid until it expires,
// but without the cookie the browser can't send it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, auth.SessionCookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Should never happen on a RequireAuth-protected route, but be safe.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid authentication required"})
		return
	}

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleMe: user lookup failed", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleRepositories returns the repositories the current user can see,
// each tagged with its organization name when org-owned.
//
// HTTP: GET /api/repositories
// Auth: Required
func (h *AuthHandler) HandleRepositories(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid authentication required"})
		return
	}

	dash, err := h.accounts.Dashboard(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleRepositories: dashboard failed", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dash.Repositories)
}

// clearCookie tells the browser to delete the named cookie immediately.
func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
