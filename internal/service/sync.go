package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// SyncResult summarizes one reconciliation run.
type SyncResult struct {
	User          *model.User `json:"-"`
	UserCreated   bool        `json:"userCreated"`
	Organizations OrgResult   `json:"organizations"`
	Repositories  RepoResult  `json:"repositories"`
}

// Syncer applies a remote snapshot to a store: identity, then organizations,
// then repositories. It holds no state besides its logger; the caller decides
// which transaction the store is bound to.
type Syncer struct {
	logger *slog.Logger
}

func NewSyncer(logger *slog.Logger) *Syncer {
	return &Syncer{logger: logger}
}

// Sync runs the three resolvers in order against store. On error the partial
// writes are left for the caller's transaction to roll back.
func (s *Syncer) Sync(ctx context.Context, store repository.Store, snap *model.Snapshot, credential string) (*SyncResult, error) {
	if snap == nil {
		return nil, apperror.ValidationFailed("snapshot", "snapshot must not be nil")
	}

	user, created, err := ResolveIdentity(ctx, store, snap.Identity, credential)
	if err != nil {
		return nil, err
	}

	orgs, orgRes, err := ResolveOrganizations(ctx, store, user, snap.OrganizationNames())
	if err != nil {
		return nil, err
	}

	repoRes, err := ReconcileRepositories(ctx, store, user, orgs, snap.Repositories)
	if err != nil {
		return nil, fmt.Errorf("service/sync: reconciling repositories for %s: %w", user.ID, err)
	}

	s.logger.Info("reconciled GitHub snapshot",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
		slog.Bool("userCreated", created),
		slog.Int("orgsCreated", orgRes.Created),
		slog.Int("membershipsAdded", orgRes.MembershipsAdded),
		slog.Int("reposCreated", repoRes.Created),
		slog.Int("reposUpdated", repoRes.Updated),
		slog.Int("reposDeleted", repoRes.Deleted),
		slog.Int("reposLinked", repoRes.Linked),
		slog.Int("reposUnlinked", repoRes.Unlinked),
	)

	return &SyncResult{
		User:          user,
		UserCreated:   created,
		Organizations: orgRes,
		Repositories:  repoRes,
	}, nil
}
