package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// RepoResult counts the writes one reconciliation made.
//
// Unlinked counts stale repositories that survived because other users still
// see them; a stale repository whose last link was removed counts as Deleted
// instead.
type RepoResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Linked   int `json:"linked"`
	Unlinked int `json:"unlinked"`
}

// Writes is the total number of repository writes.
func (r RepoResult) Writes() int {
	return r.Created + r.Updated + r.Deleted + r.Linked + r.Unlinked
}

// ReconcileRepositories brings the store's repositories in line with the
// remote listing for one user.
//
// THE ALGORITHM (a set-diff against current local state, not a change log):
//
//  1. Validate: no two remote records share a GitHub ID, and every
//     organization named by a record was resolved beforehand.
//  2. Upsert every record by GitHub ID, looking across ALL owners: a
//     repository transferred into an organization keeps its row. Missing →
//     create and link. Present → rename and/or re-own in place, then link
//     the user if not yet linked.
//  3. Collect the stale set per scope. User scope: repositories linked to the
//     user and owned by the user. Org scope, for every organization the user
//     is a member of: all of that organization's repositories. A repository
//     is stale when its GitHub ID is not in its owner's part of the listing.
//  4. Unlink the user from each stale repository, then count the remaining
//     links in the same transaction. Zero → delete the record. Otherwise it
//     still belongs to somebody else and stays.
//
// Repositories owned by anyone else (another user, an organization the user
// is not a member of) are outside every scope and left alone.
//
// Running it twice with the same listing makes zero writes the second time.
// Any store error aborts; the caller's transaction rolls everything back.
func ReconcileRepositories(ctx context.Context, store repository.Store, user *model.User, orgs map[string]*model.Organization, remote []model.RemoteRepository) (RepoResult, error) {
	var res RepoResult

	if err := validateListing(remote, orgs); err != nil {
		return res, err
	}

	// Partition by owner. Each scope's set holds the GitHub IDs GitHub
	// reported for it; the key is the owner the row will have after step 2.
	listed := make(map[model.Owner]map[int64]struct{})
	for _, r := range remote {
		owner := localOwner(r.Owner, user, orgs)
		if listed[owner] == nil {
			listed[owner] = make(map[int64]struct{})
		}
		listed[owner][r.GitHubID] = struct{}{}
	}

	for _, r := range remote {
		if err := upsertRepo(ctx, store, user, localOwner(r.Owner, user, orgs), r, &res); err != nil {
			return res, err
		}
	}

	stale, err := staleRepos(ctx, store, user, listed)
	if err != nil {
		return res, err
	}

	for _, repo := range stale {
		unlinked, err := store.UnlinkUser(ctx, repo.ID, user.ID)
		if err != nil {
			return res, fmt.Errorf("service/reconcile: unlinking %s: %w", repo.ID, err)
		}

		// Read the global visible-to set now, inside the transaction, not
		// from anything loaded earlier.
		remaining, err := store.CountVisibleUsers(ctx, repo.ID)
		if err != nil {
			return res, fmt.Errorf("service/reconcile: counting users of %s: %w", repo.ID, err)
		}
		if remaining > 0 {
			if unlinked {
				res.Unlinked++
			}
			continue
		}

		if err := store.DeleteRepo(ctx, repo.ID); err != nil {
			return res, fmt.Errorf("service/reconcile: deleting %s: %w", repo.ID, err)
		}
		res.Deleted++
	}

	return res, nil
}

func validateListing(remote []model.RemoteRepository, orgs map[string]*model.Organization) error {
	seen := make(map[int64]struct{}, len(remote))
	for _, r := range remote {
		if _, dup := seen[r.GitHubID]; dup {
			return apperror.ValidationFailed("github_id",
				"remote listing contains GitHub ID "+strconv.FormatInt(r.GitHubID, 10)+" more than once")
		}
		seen[r.GitHubID] = struct{}{}

		switch r.Owner.Kind {
		case model.OwnerUser:
		case model.OwnerOrganization:
			if orgs[r.Owner.OrgName] == nil {
				return apperror.ValidationFailed("owner",
					fmt.Sprintf("repository %d belongs to unresolved organization %q", r.GitHubID, r.Owner.OrgName))
			}
		default:
			return apperror.ValidationFailed("owner",
				fmt.Sprintf("repository %d has unknown owner kind %d", r.GitHubID, int(r.Owner.Kind)))
		}
	}
	return nil
}

// localOwner maps a remote owner descriptor to the local Owner variant.
// validateListing has already checked the organization exists.
func localOwner(o model.RemoteOwner, user *model.User, orgs map[string]*model.Organization) model.Owner {
	if o.Kind == model.OwnerOrganization {
		return model.OrgOwner(orgs[o.OrgName].ID)
	}
	return model.UserOwner(user.ID)
}

func upsertRepo(ctx context.Context, store repository.Store, user *model.User, owner model.Owner, r model.RemoteRepository, res *RepoResult) error {
	existing, err := store.GetRepoByGitHubID(ctx, r.GitHubID)
	if errors.Is(err, apperror.ErrNotFound) {
		repo := &model.Repository{GitHubID: r.GitHubID, Name: r.Name, Owner: owner}
		if err := store.CreateRepo(ctx, repo); err != nil {
			return fmt.Errorf("service/reconcile: creating %d: %w", r.GitHubID, err)
		}
		res.Created++
		if _, err := store.LinkUser(ctx, repo.ID, user.ID); err != nil {
			return fmt.Errorf("service/reconcile: linking %s: %w", repo.ID, err)
		}
		res.Linked++
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/reconcile: looking up %d: %w", r.GitHubID, err)
	}

	// Rename and ownership change are independent; both follow GitHub.
	changed := false
	if existing.Name != r.Name {
		existing.Name = r.Name
		changed = true
	}
	if existing.Owner != owner {
		existing.Owner = owner
		changed = true
	}
	if changed {
		if err := store.UpdateRepo(ctx, existing); err != nil {
			return fmt.Errorf("service/reconcile: updating %s: %w", existing.ID, err)
		}
		res.Updated++
	}

	linked, err := store.LinkUser(ctx, existing.ID, user.ID)
	if err != nil {
		return fmt.Errorf("service/reconcile: linking %s: %w", existing.ID, err)
	}
	if linked {
		res.Linked++
	}
	return nil
}

// staleRepos returns the repositories in the user's scopes that the listing
// no longer contains. Membership is read after organization resolution, so
// organizations joined during this run are in scope.
func staleRepos(ctx context.Context, store repository.Store, user *model.User, listed map[model.Owner]map[int64]struct{}) ([]model.Repository, error) {
	var stale []model.Repository
	collect := func(repos []model.Repository, owner model.Owner) {
		for _, repo := range repos {
			if repo.Owner != owner {
				continue
			}
			if _, ok := listed[owner][repo.GitHubID]; ok {
				continue
			}
			stale = append(stale, repo)
		}
	}

	visible, err := store.ListReposForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/reconcile: listing visible repositories: %w", err)
	}
	collect(visible, model.UserOwner(user.ID))

	memberships, err := store.ListOrganizationsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/reconcile: listing memberships: %w", err)
	}
	for _, org := range memberships {
		owner := model.OrgOwner(org.ID)
		repos, err := store.ListReposByOwner(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("service/reconcile: listing repositories of %q: %w", org.Name, err)
		}
		collect(repos, owner)
	}

	return stale, nil
}
