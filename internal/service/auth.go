// Package service holds the login and reconciliation business logic.
//
// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the GitHub/persistence adapters:
//
//	AuthHandler (HTTP) → AuthService → CodeExchanger   (OAuth code → token)
//	                                 → SnapshotFetcher (token → identity + repos)
//	                                 → Gateway         (one locked transaction)
//	                                 → TokenService    (session JWT)
//
// KEY RESPONSIBILITIES:
//   - Orchestrate the GitHub OAuth callback end to end
//   - Run identity, organization and repository reconciliation atomically
//   - Classify failures so the handler can pick the right page
//
// WHAT THIS PACKAGE DOES NOT DO:
//   - It does NOT check the OAuth state (the handler does, before calling in)
//   - It does NOT set cookies or read HTTP requests
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/auth"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// CodeExchanger trades an OAuth authorization code for an access token.
// *auth.GitHubProvider implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// SnapshotFetcher reads everything GitHub reports for an access token.
// *github.Client implements it.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, accessToken string) (*model.Snapshot, error)
}

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - exchanger  CodeExchanger       → OAuth code exchange
//   - fetcher    SnapshotFetcher     → GitHub REST reads
//   - gateway    repository.Gateway  → locked, transactional persistence
//   - syncer     *Syncer             → the three resolvers
//   - tokens     *auth.TokenService  → session JWTs
//   - logger     *slog.Logger        → structured logging
type AuthService struct {
	exchanger CodeExchanger
	fetcher   SnapshotFetcher
	gateway   repository.Gateway
	syncer    *Syncer
	tokens    *auth.TokenService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// Call this in server.go when wiring the dependency graph.
func NewAuthService(
	exchanger CodeExchanger,
	fetcher SnapshotFetcher,
	gateway repository.Gateway,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		exchanger: exchanger,
		fetcher:   fetcher,
		gateway:   gateway,
		syncer:    NewSyncer(logger),
		tokens:    tokens,
		logger:    logger,
	}
}

// AuthResult is returned by LoginWithCode.
// It bundles the user record, the issued JWT and the reconciliation counts so
// the handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
	Sync  *SyncResult
}

// lockKey serializes logins for one GitHub account. Different accounts get
// different keys and never wait on each other's lock.
func lockKey(githubID int64) string {
	return "github-user:" + strconv.FormatInt(githubID, 10)
}

// LoginWithCode completes a GitHub login after the handler has verified state.
//
//  1. Exchange the code for an access token
//  2. Fetch the full snapshot (identity + repositories) BEFORE touching the DB
//  3. Under the account's lock, in one transaction: identity → orgs → repos
//  4. Issue a session JWT for the local user
//
// Errors come back classified:
//   - apperror.ErrRateLimited  GitHub throttled the exchange or a fetch
//   - apperror.ErrAuthFailed   anything else (the cause is logged, not shown)
//
// Nothing is written unless step 3 commits.
func (s *AuthService) LoginWithCode(ctx context.Context, code string) (*AuthResult, error) {
	if code == "" {
		return nil, apperror.AuthFailed(errors.New("service/auth: missing authorization code"))
	}

	accessToken, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, s.classify("exchanging code", err)
	}

	snap, err := s.fetcher.FetchSnapshot(ctx, accessToken)
	if err != nil {
		return nil, s.classify("fetching snapshot", err)
	}

	var result *SyncResult
	err = s.gateway.Atomically(ctx, lockKey(snap.Identity.GitHubID), func(ctx context.Context, store repository.Store) error {
		var err error
		result, err = s.syncer.Sync(ctx, store, snap, accessToken)
		return err
	})
	if err != nil {
		return nil, s.classify("reconciling", err)
	}

	token, err := s.tokens.Generate(result.User.ID)
	if err != nil {
		return nil, s.classify("generating token", err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", result.User.ID),
		slog.String("login", result.User.Login),
		slog.Bool("created", result.UserCreated),
	)

	return &AuthResult{User: result.User, Token: token, Sync: result}, nil
}

// classify logs err and maps it onto the login error taxonomy.
func (s *AuthService) classify(step string, err error) error {
	if errors.Is(err, apperror.ErrRateLimited) {
		s.logger.Warn("GitHub rate limit hit during login", slog.String("step", step), slog.Any("error", err))
		return err
	}
	s.logger.Error("login failed", slog.String("step", step), slog.Any("error", err))
	if errors.Is(err, apperror.ErrAuthFailed) {
		return err
	}
	return apperror.AuthFailed(fmt.Errorf("service/auth: %s: %w", step, err))
}

// GetUserByID returns the user for the given internal ID.
//
// Used by the /api/me handler to look up the full user record after the
// middleware validates the JWT and extracts the userID from the token's
// Subject claim.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID must not be empty")
	}

	user, err := s.gateway.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}
