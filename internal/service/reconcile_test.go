package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/auth"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
	"github.com/sakif/gitreports/internal/repository/sqlite"
)

// =========================================================================
// HELPERS
// =========================================================================
//
// These tests run the resolvers against a real in-memory SQLite store rather
// than a fake: the interesting behavior (cascades, the unique GitHub ID,
// counting links inside a transaction) lives in the database.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const georgeID = 4242

func george(name string) model.RemoteIdentity {
	return model.RemoteIdentity{GitHubID: georgeID, Login: "georgegit", Name: name}
}

func userRepo(id int64, name string) model.RemoteRepository {
	return model.RemoteRepository{GitHubID: id, Name: name, Owner: model.RemoteOwner{Kind: model.OwnerUser}}
}

func orgRepo(id int64, name, org string) model.RemoteRepository {
	return model.RemoteRepository{GitHubID: id, Name: name, Owner: model.RemoteOwner{Kind: model.OwnerOrganization, OrgName: org}}
}

// runSync applies snap inside one transaction, the way a login does.
func runSync(t *testing.T, db *sqlite.DB, snap *model.Snapshot) *SyncResult {
	t.Helper()
	var res *SyncResult
	err := db.Atomically(context.Background(), "test", func(ctx context.Context, store repository.Store) error {
		var err error
		res, err = NewSyncer(testLogger()).Sync(ctx, store, snap, "gho_token")
		return err
	})
	require.NoError(t, err)
	return res
}

func visibleNames(t *testing.T, db *sqlite.DB, userID string) []string {
	t.Helper()
	repos, err := db.ListReposForUser(context.Background(), userID)
	require.NoError(t, err)
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names
}

func mustRepo(t *testing.T, db *sqlite.DB, githubID int64) *model.Repository {
	t.Helper()
	repo, err := db.GetRepoByGitHubID(context.Background(), githubID)
	require.NoError(t, err)
	return repo
}

func assertGone(t *testing.T, db *sqlite.DB, githubID int64) {
	t.Helper()
	_, err := db.GetRepoByGitHubID(context.Background(), githubID)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "repository %d should have been deleted", githubID)
}

// =========================================================================
// LOGIN SCENARIOS
// =========================================================================

func TestSync_FirstLogin(t *testing.T) {
	db := newTestStore(t)

	res := runSync(t, db, &model.Snapshot{
		Identity: george("George"),
		Repositories: []model.RemoteRepository{
			userRepo(1, "CoolCode"),
			userRepo(2, "PrettyProject"),
			orgRepo(3, "NeatOrgCode", "neatorg"),
			orgRepo(4, "NeatOrgProject", "neatorg"),
		},
	})

	assert.True(t, res.UserCreated)
	assert.Equal(t, OrgResult{Created: 1, MembershipsAdded: 1}, res.Organizations)
	assert.Equal(t, RepoResult{Created: 4, Linked: 4}, res.Repositories)

	assert.Equal(t, []string{"CoolCode", "NeatOrgCode", "NeatOrgProject", "PrettyProject"},
		visibleNames(t, db, res.User.ID))

	orgs, err := db.ListOrganizationsForUser(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "neatorg", orgs[0].Name)

	assert.Equal(t, model.OrgOwner(orgs[0].ID), mustRepo(t, db, 3).Owner)
	assert.Equal(t, model.UserOwner(res.User.ID), mustRepo(t, db, 1).Owner)
}

func TestSync_SecondRunWithSameSnapshotWritesNothing(t *testing.T) {
	db := newTestStore(t)
	snap := &model.Snapshot{
		Identity: george("George"),
		Repositories: []model.RemoteRepository{
			userRepo(1, "CoolCode"),
			orgRepo(3, "NeatOrgCode", "neatorg"),
		},
	}

	first := runSync(t, db, snap)
	second := runSync(t, db, snap)

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.False(t, second.UserCreated)
	assert.Equal(t, OrgResult{}, second.Organizations)
	assert.Equal(t, RepoResult{}, second.Repositories)
	assert.Zero(t, second.Repositories.Writes())
}

func TestSync_OrgRepoRenamedAndStaleOrgRepoDeleted(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	first := runSync(t, db, &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{orgRepo(5705826, "NeatOrgStuff", "neatorg")},
	})
	before := mustRepo(t, db, 5705826)

	// An org repository nobody is linked to and GitHub no longer reports.
	org, err := db.GetOrganizationByName(ctx, "neatorg")
	require.NoError(t, err)
	require.NoError(t, db.CreateRepo(ctx, &model.Repository{GitHubID: 111, Name: "OldOrgCode", Owner: model.OrgOwner(org.ID)}))

	res := runSync(t, db, &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{orgRepo(5705826, "NeatOrgCode", "neatorg")},
	})

	assert.Equal(t, RepoResult{Updated: 1, Deleted: 1}, res.Repositories)

	after := mustRepo(t, db, 5705826)
	assert.Equal(t, before.ID, after.ID, "rename must keep the local ID")
	assert.Equal(t, "NeatOrgCode", after.Name)
	assertGone(t, db, 111)
	assert.Equal(t, []string{"NeatOrgCode"}, visibleNames(t, db, first.User.ID))
}

func TestSync_ReturningUserRenameAndStaleUserRepo(t *testing.T) {
	db := newTestStore(t)

	first := runSync(t, db, &model.Snapshot{
		Identity: george("George"),
		Repositories: []model.RemoteRepository{
			userRepo(5705827, "NeatCode"),
			userRepo(42, "OldCode"),
		},
	})
	before := mustRepo(t, db, 5705827)

	res := runSync(t, db, &model.Snapshot{
		Identity:     george("George Git"),
		Repositories: []model.RemoteRepository{userRepo(5705827, "CoolCode")},
	})

	assert.False(t, res.UserCreated)
	assert.Equal(t, first.User.ID, res.User.ID)
	assert.Equal(t, "George Git", res.User.Name)
	assert.Equal(t, RepoResult{Updated: 1, Deleted: 1}, res.Repositories)

	after := mustRepo(t, db, 5705827)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "CoolCode", after.Name)
	assertGone(t, db, 42)
	assert.Equal(t, []string{"CoolCode"}, visibleNames(t, db, res.User.ID))

	stored, err := db.GetUserByGitHubID(context.Background(), georgeID)
	require.NoError(t, err)
	assert.Equal(t, "George Git", stored.Name)
}

func TestSync_ExistingUnlinkedReposAreReusedAndLinked(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	first := runSync(t, db, &model.Snapshot{Identity: george("George")})

	org := &model.Organization{Name: "neatorg"}
	require.NoError(t, db.CreateOrganization(ctx, org))
	pretty := &model.Repository{GitHubID: 19548054, Name: "PrettyProject", Owner: model.UserOwner(first.User.ID)}
	require.NoError(t, db.CreateRepo(ctx, pretty))
	neat := &model.Repository{GitHubID: 19548055, Name: "NeatOrgProject", Owner: model.OrgOwner(org.ID)}
	require.NoError(t, db.CreateRepo(ctx, neat))

	res := runSync(t, db, &model.Snapshot{
		Identity: george("George"),
		Repositories: []model.RemoteRepository{
			userRepo(19548054, "PrettyProject"),
			orgRepo(19548055, "NeatOrgProject", "neatorg"),
		},
	})

	assert.Equal(t, OrgResult{MembershipsAdded: 1}, res.Organizations)
	assert.Equal(t, RepoResult{Linked: 2}, res.Repositories)
	assert.Equal(t, pretty.ID, mustRepo(t, db, 19548054).ID)
	assert.Equal(t, neat.ID, mustRepo(t, db, 19548055).ID)
	assert.Equal(t, []string{"NeatOrgProject", "PrettyProject"}, visibleNames(t, db, first.User.ID))
}

// =========================================================================
// SCOPING
// =========================================================================

func TestSync_SharedRepoIsUnlinkedNotDeleted(t *testing.T) {
	db := newTestStore(t)
	shared := orgRepo(300, "Shared", "neatorg")

	alice := runSync(t, db, &model.Snapshot{
		Identity:     model.RemoteIdentity{GitHubID: 1, Login: "alice"},
		Repositories: []model.RemoteRepository{shared},
	})
	bob := runSync(t, db, &model.Snapshot{
		Identity:     model.RemoteIdentity{GitHubID: 2, Login: "bob"},
		Repositories: []model.RemoteRepository{shared},
	})
	assert.Equal(t, RepoResult{Linked: 1}, bob.Repositories, "bob reuses alice's record")

	res := runSync(t, db, &model.Snapshot{Identity: model.RemoteIdentity{GitHubID: 1, Login: "alice"}})
	assert.Equal(t, RepoResult{Unlinked: 1}, res.Repositories)
	assert.Empty(t, visibleNames(t, db, alice.User.ID))
	assert.Equal(t, []string{"Shared"}, visibleNames(t, db, bob.User.ID))

	// Alice's next identical login sees nothing left to do.
	again := runSync(t, db, &model.Snapshot{Identity: model.RemoteIdentity{GitHubID: 1, Login: "alice"}})
	assert.Zero(t, again.Repositories.Writes())

	res = runSync(t, db, &model.Snapshot{Identity: model.RemoteIdentity{GitHubID: 2, Login: "bob"}})
	assert.Equal(t, RepoResult{Deleted: 1}, res.Repositories)
	assertGone(t, db, 300)
}

func TestSync_OwnershipTransferKeepsRecord(t *testing.T) {
	db := newTestStore(t)

	runSync(t, db, &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{userRepo(7, "Tool")},
	})
	before := mustRepo(t, db, 7)

	res := runSync(t, db, &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{orgRepo(7, "Tool", "neatorg")},
	})

	assert.Equal(t, RepoResult{Updated: 1}, res.Repositories)
	after := mustRepo(t, db, 7)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, model.OwnerOrganization, after.Owner.Kind)
}

func TestSync_ReposOfOtherOwnersAreOutOfScope(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	bob := runSync(t, db, &model.Snapshot{
		Identity:     model.RemoteIdentity{GitHubID: 2, Login: "bob"},
		Repositories: []model.RemoteRepository{userRepo(500, "BobsTool"), orgRepo(501, "OtherOrgTool", "otherorg")},
	})
	alice := runSync(t, db, &model.Snapshot{Identity: model.RemoteIdentity{GitHubID: 1, Login: "alice"}})

	// Alice can see both, but owns neither and is not in otherorg.
	for _, id := range []int64{500, 501} {
		_, err := db.LinkUser(ctx, mustRepo(t, db, id).ID, alice.User.ID)
		require.NoError(t, err)
	}

	res := runSync(t, db, &model.Snapshot{Identity: model.RemoteIdentity{GitHubID: 1, Login: "alice"}})

	assert.Zero(t, res.Repositories.Writes())
	assert.Equal(t, []string{"BobsTool", "OtherOrgTool"}, visibleNames(t, db, alice.User.ID))
	assert.Equal(t, []string{"BobsTool", "OtherOrgTool"}, visibleNames(t, db, bob.User.ID))
}

func TestSync_MembershipIsAdditive(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	first := runSync(t, db, &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{orgRepo(3, "NeatOrgCode", "neatorg")},
	})

	res := runSync(t, db, &model.Snapshot{Identity: george("George")})

	orgs, err := db.ListOrganizationsForUser(ctx, first.User.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1, "membership must survive a snapshot that no longer mentions the org")
	assert.Equal(t, "neatorg", orgs[0].Name)

	// The org is still in scope, so its unreported repository is stale.
	assert.Equal(t, RepoResult{Deleted: 1}, res.Repositories)
	assertGone(t, db, 3)
}

// =========================================================================
// VALIDATION
// =========================================================================

func TestReconcileRepositories_RejectsBadListings(t *testing.T) {
	tests := []struct {
		name    string
		remote  []model.RemoteRepository
		wantErr error
	}{
		{
			name:    "duplicate GitHub ID across owners",
			remote:  []model.RemoteRepository{userRepo(1, "A"), orgRepo(1, "B", "neatorg")},
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "unknown owner kind",
			remote:  []model.RemoteRepository{{GitHubID: 9, Name: "X"}},
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "organization not resolved",
			remote:  []model.RemoteRepository{orgRepo(2, "C", "ghostorg")},
			wantErr: apperror.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestStore(t)
			ctx := context.Background()
			first := runSync(t, db, &model.Snapshot{Identity: george("George")})

			org := &model.Organization{Name: "neatorg"}
			require.NoError(t, db.CreateOrganization(ctx, org))
			orgs := map[string]*model.Organization{"neatorg": org}

			res, err := ReconcileRepositories(ctx, db, first.User, orgs, tt.remote)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, res.Writes())
			assert.Empty(t, visibleNames(t, db, first.User.ID))
		})
	}
}

func TestResolveIdentity_RejectsMissingGitHubID(t *testing.T) {
	db := newTestStore(t)

	_, _, err := ResolveIdentity(context.Background(), db, model.RemoteIdentity{Login: "nobody"}, "tok")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestResolveIdentity_FallsBackToLoginForName(t *testing.T) {
	db := newTestStore(t)

	user, created, err := ResolveIdentity(context.Background(), db, model.RemoteIdentity{GitHubID: 7, Login: "octo"}, "tok")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "octo", user.Name)

	stored, err := db.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.AccessToken)
}

func TestResolveIdentity_AfterSessionSecretChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gitreports.db")

	openWith := func(secret string) *sqlite.DB {
		sealer, err := auth.NewSealer(secret)
		require.NoError(t, err)
		db, err := sqlite.New(path, sqlite.WithSealer(sealer), sqlite.WithLogger(testLogger()))
		require.NoError(t, err)
		return db
	}

	before := openWith("first-secret-at-least-16-chars")
	first, created, err := ResolveIdentity(ctx, before, george("George"), "gho_old")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, before.Close())

	after := openWith("second-secret-at-least-16-chars")
	t.Cleanup(func() { after.Close() })

	again, created, err := ResolveIdentity(ctx, after, george("George Git"), "gho_new")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	stored, err := after.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_new", stored.AccessToken)
	assert.Equal(t, "George Git", stored.Name)
}

func TestResolveOrganizations_SkipsRepeatsAndRejectsEmptyName(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	first := runSync(t, db, &model.Snapshot{Identity: george("George")})

	orgs, res, err := ResolveOrganizations(ctx, db, first.User, []string{"neatorg", "neatorg", "coolorg"})
	require.NoError(t, err)
	assert.Equal(t, OrgResult{Created: 2, MembershipsAdded: 2}, res)
	assert.Len(t, orgs, 2)

	_, _, err = ResolveOrganizations(ctx, db, first.User, []string{""})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
