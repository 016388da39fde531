// Package repository declares the persistence gateway the services depend on.
//
// The services never see SQL: they receive these interfaces, and the sqlite
// package provides the implementation. Tests can substitute fakes or wrap the
// real store to inject failures.
package repository

import (
	"context"

	"github.com/sakif/gitreports/internal/model"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUser(ctx context.Context, user *model.User) error
}

type OrganizationRepository interface {
	GetOrganizationByName(ctx context.Context, name string) (*model.Organization, error)
	CreateOrganization(ctx context.Context, org *model.Organization) error
	// AddMember links a user to an organization. Adding an existing
	// membership is a no-op and reports added == false.
	AddMember(ctx context.Context, orgID, userID string) (added bool, err error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]model.Organization, error)
}

type RepoRepository interface {
	// GetRepoByGitHubID looks across every owner; GitHub ids are globally unique.
	GetRepoByGitHubID(ctx context.Context, githubID int64) (*model.Repository, error)
	CreateRepo(ctx context.Context, repo *model.Repository) error
	UpdateRepo(ctx context.Context, repo *model.Repository) error
	DeleteRepo(ctx context.Context, id string) error
	// LinkUser adds userID to the repository's visible-to set (idempotent).
	LinkUser(ctx context.Context, repoID, userID string) (linked bool, err error)
	// UnlinkUser removes userID from the visible-to set (idempotent).
	UnlinkUser(ctx context.Context, repoID, userID string) (unlinked bool, err error)
	// CountVisibleUsers reads the global visible-to set size.
	CountVisibleUsers(ctx context.Context, repoID string) (int, error)
	ListReposForUser(ctx context.Context, userID string) ([]model.Repository, error)
	// ListReposByOwner returns the owner's repositories whether or not
	// anybody is linked to them.
	ListReposByOwner(ctx context.Context, owner model.Owner) ([]model.Repository, error)
}

// Store is everything one reconciliation run may touch.
type Store interface {
	UserRepository
	OrganizationRepository
	RepoRepository
}

// Gateway runs a unit of work atomically.
//
// Atomically acquires an exclusive lock for lockKey, begins a transaction,
// and hands fn a Store bound to that transaction. The transaction commits
// only if fn returns nil; any error rolls back every write fn made. Two calls
// with the same lockKey never overlap; calls with different keys do not wait
// on each other's lock.
type Gateway interface {
	Store
	Atomically(ctx context.Context, lockKey string, fn func(ctx context.Context, store Store) error) error
}

// CredentialSealer encrypts access tokens before they are written and
// decrypts them on read.
type CredentialSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
