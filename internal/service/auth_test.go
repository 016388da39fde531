package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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
// FAKES AND HELPERS
// =========================================================================

// fakeExchanger stands in for the OAuth token endpoint.
type fakeExchanger struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

// fakeFetcher stands in for the GitHub REST API.
type fakeFetcher struct {
	snap  *model.Snapshot
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, accessToken string) (*model.Snapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

// failingGateway wraps the real store and makes DeleteRepo fail inside every
// transaction, to exercise rollback after earlier writes have happened.
type failingGateway struct {
	*sqlite.DB
}

func (g *failingGateway) Atomically(ctx context.Context, lockKey string, fn func(ctx context.Context, store repository.Store) error) error {
	return g.DB.Atomically(ctx, lockKey, func(ctx context.Context, store repository.Store) error {
		return fn(ctx, &failingStore{Store: store})
	})
}

type failingStore struct {
	repository.Store
}

func (s *failingStore) DeleteRepo(ctx context.Context, id string) error {
	return errors.New("disk I/O error")
}

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	return tokens
}

func newTestAuthService(t *testing.T, gateway repository.Gateway, ex CodeExchanger, f SnapshotFetcher) *AuthService {
	t.Helper()
	return NewAuthService(ex, f, gateway, newTestTokens(t), testLogger())
}

func firstLoginSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Identity: george("George"),
		Repositories: []model.RemoteRepository{
			userRepo(1, "CoolCode"),
			userRepo(2, "PrettyProject"),
			orgRepo(3, "NeatOrgCode", "neatorg"),
			orgRepo(4, "NeatOrgProject", "neatorg"),
		},
	}
}

func assertNoUser(t *testing.T, db *sqlite.DB) {
	t.Helper()
	_, err := db.GetUserByGitHubID(context.Background(), georgeID)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "no user should have been written")
}

// =========================================================================
// LoginWithCode
// =========================================================================

func TestLoginWithCode_Success(t *testing.T) {
	db := newTestStore(t)
	ex := &fakeExchanger{token: "gho_abc"}
	svc := newTestAuthService(t, db, ex, &fakeFetcher{snap: firstLoginSnapshot()})

	res, err := svc.LoginWithCode(context.Background(), "code-123")
	require.NoError(t, err)

	assert.Equal(t, "georgegit", res.User.Login)
	assert.True(t, res.Sync.UserCreated)
	assert.Equal(t, 4, res.Sync.Repositories.Created)

	userID, err := newTestTokens(t).Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, userID)

	stored, err := db.GetUserByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", stored.AccessToken)
}

func TestLoginWithCode_Failures(t *testing.T) {
	tests := []struct {
		name         string
		code         string
		exchangeErr  error
		fetchErr     error
		wantErr      error
		wantExchange int32
		wantFetch    int32
	}{
		{
			name:    "missing code",
			code:    "",
			wantErr: apperror.ErrAuthFailed,
		},
		{
			name:         "exchange rate limited",
			code:         "c",
			exchangeErr:  apperror.RateLimited(errors.New("429")),
			wantErr:      apperror.ErrRateLimited,
			wantExchange: 1,
		},
		{
			name:         "exchange rejected",
			code:         "c",
			exchangeErr:  errors.New("bad_verification_code"),
			wantErr:      apperror.ErrAuthFailed,
			wantExchange: 1,
		},
		{
			name:         "fetch rate limited",
			code:         "c",
			fetchErr:     apperror.RateLimited(errors.New("403 remaining=0")),
			wantErr:      apperror.ErrRateLimited,
			wantExchange: 1,
			wantFetch:    1,
		},
		{
			name:         "fetch failure",
			code:         "c",
			fetchErr:     errors.New("connection reset"),
			wantErr:      apperror.ErrAuthFailed,
			wantExchange: 1,
			wantFetch:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestStore(t)
			ex := &fakeExchanger{token: "gho_abc", err: tt.exchangeErr}
			f := &fakeFetcher{snap: firstLoginSnapshot(), err: tt.fetchErr}
			svc := newTestAuthService(t, db, ex, f)

			res, err := svc.LoginWithCode(context.Background(), tt.code)

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantExchange, ex.calls.Load())
			assert.Equal(t, tt.wantFetch, f.calls.Load())
			assertNoUser(t, db)
		})
	}
}

func TestLoginWithCode_RollsBackOnPersistenceFailure(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	_, err := newTestAuthService(t, db, &fakeExchanger{token: "gho_old"}, &fakeFetcher{snap: &model.Snapshot{
		Identity:     george("George"),
		Repositories: []model.RemoteRepository{userRepo(42, "OldCode")},
	}}).LoginWithCode(ctx, "first")
	require.NoError(t, err)

	// The second login renames the user, creates a repository, then fails
	// while deleting the stale one.
	svc := newTestAuthService(t, &failingGateway{DB: db}, &fakeExchanger{token: "gho_new"}, &fakeFetcher{snap: &model.Snapshot{
		Identity:     george("George Git"),
		Repositories: []model.RemoteRepository{userRepo(43, "NewCode")},
	}})
	_, err = svc.LoginWithCode(ctx, "second")
	require.ErrorIs(t, err, apperror.ErrAuthFailed)

	user, err := db.GetUserByGitHubID(ctx, georgeID)
	require.NoError(t, err)
	assert.Equal(t, "George", user.Name)
	assert.Equal(t, "gho_old", user.AccessToken)

	mustRepo(t, db, 42)
	assertGone(t, db, 43)
	assert.Equal(t, []string{"OldCode"}, visibleNames(t, db, user.ID))
}

func TestLoginWithCode_ConcurrentSameUser(t *testing.T) {
	db := newTestStore(t)
	svc := newTestAuthService(t, db, &fakeExchanger{token: "gho_abc"}, &fakeFetcher{snap: firstLoginSnapshot()})

	const n = 8
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		errs    = make(chan error, n)
		ids     = make(chan string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.LoginWithCode(context.Background(), "code")
			if err != nil {
				errs <- err
				return
			}
			if res.Sync.UserCreated {
				created.Add(1)
			}
			ids <- res.User.ID
		}()
	}
	wg.Wait()
	close(errs)
	close(ids)

	for err := range errs {
		t.Errorf("concurrent login failed: %v", err)
	}
	assert.Equal(t, int32(1), created.Load(), "exactly one login creates the user")

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.Len(t, visibleNames(t, db, first), 4)
}

// =========================================================================
// READ SIDE
// =========================================================================

func TestDashboard(t *testing.T) {
	db := newTestStore(t)
	svc := newTestAuthService(t, db, &fakeExchanger{token: "gho_abc"}, &fakeFetcher{snap: firstLoginSnapshot()})

	res, err := svc.LoginWithCode(context.Background(), "code")
	require.NoError(t, err)

	dash, err := svc.Dashboard(context.Background(), res.User.ID)
	require.NoError(t, err)

	assert.Equal(t, res.User.ID, dash.User.ID)
	require.Len(t, dash.Organizations, 1)
	assert.Equal(t, "neatorg", dash.Organizations[0].Name)

	byName := make(map[string]string)
	for _, r := range dash.Repositories {
		byName[r.Name] = r.OrganizationName
	}
	assert.Equal(t, map[string]string{
		"CoolCode":       "",
		"PrettyProject":  "",
		"NeatOrgCode":    "neatorg",
		"NeatOrgProject": "neatorg",
	}, byName)
}

func TestGetUserByID(t *testing.T) {
	db := newTestStore(t)
	svc := newTestAuthService(t, db, &fakeExchanger{}, &fakeFetcher{})

	_, err := svc.GetUserByID(context.Background(), "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.Dashboard(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
