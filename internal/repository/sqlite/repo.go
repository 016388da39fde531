package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

var _ repository.RepoRepository = (*DB)(nil)

const repoColumns = `r.id, r.github_id, r.name, r.owner_user_id, r.owner_org_id, r.created_at, r.updated_at`

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRepo reads one repository row and rebuilds the tagged Owner from the
// two nullable owner columns.
func scanRepo(row rowScanner) (*model.Repository, error) {
	var r model.Repository
	var ownerUser, ownerOrg sql.NullString
	if err := row.Scan(&r.ID, &r.GitHubID, &r.Name, &ownerUser, &ownerOrg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	switch {
	case ownerUser.Valid:
		r.Owner = model.UserOwner(ownerUser.String)
	case ownerOrg.Valid:
		r.Owner = model.OrgOwner(ownerOrg.String)
	}
	return &r, nil
}

// ownerArgs converts the Owner variant into the (owner_user_id, owner_org_id)
// column pair. The unused side is NULL.
func ownerArgs(o model.Owner) (any, any, error) {
	if err := o.Validate(); err != nil {
		return nil, nil, apperror.ValidationFailed("owner", err.Error())
	}
	if o.Kind == model.OwnerUser {
		return o.UserID, nil, nil
	}
	return nil, o.OrgID, nil
}

// GetRepoByGitHubID finds a repository by GitHub id regardless of owner.
func (db *DB) GetRepoByGitHubID(ctx context.Context, githubID int64) (*model.Repository, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories r WHERE r.github_id = ?`, githubID)
	r, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("repository", strconv.FormatInt(githubID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting repository by github_id %d: %w", githubID, err)
	}
	return r, nil
}

// CreateRepo inserts a repository. It does not link any user; callers do
// that explicitly with LinkUser.
func (db *DB) CreateRepo(ctx context.Context, repo *model.Repository) error {
	ownerUser, ownerOrg, err := ownerArgs(repo.Owner)
	if err != nil {
		return err
	}

	now := time.Now()
	repo.ID = xid.New().String()
	repo.CreatedAt = now
	repo.UpdatedAt = now

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO repositories (id, github_id, name, owner_user_id, owner_org_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.GitHubID, repo.Name, ownerUser, ownerOrg, repo.CreatedAt, repo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting repository (githubID=%d): %w", repo.GitHubID, err)
	}
	return nil
}

// UpdateRepo writes the name and owner. github_id is the join key and is
// never rewritten.
func (db *DB) UpdateRepo(ctx context.Context, repo *model.Repository) error {
	ownerUser, ownerOrg, err := ownerArgs(repo.Owner)
	if err != nil {
		return err
	}
	repo.UpdatedAt = time.Now()

	result, err := db.q.ExecContext(ctx,
		`UPDATE repositories
		 SET name = ?, owner_user_id = ?, owner_org_id = ?, updated_at = ?
		 WHERE id = ?`,
		repo.Name, ownerUser, ownerOrg, repo.UpdatedAt, repo.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating repository %s: %w", repo.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("repository", repo.ID)
	}
	return nil
}

// DeleteRepo removes a repository. Its visibility links go with it
// (ON DELETE CASCADE).
func (db *DB) DeleteRepo(ctx context.Context, id string) error {
	result, err := db.q.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting repository %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("repository", id)
	}
	return nil
}

// LinkUser adds the user to the repository's visible-to set.
func (db *DB) LinkUser(ctx context.Context, repoID, userID string) (bool, error) {
	result, err := db.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO repository_users (repository_id, user_id) VALUES (?, ?)`,
		repoID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: linking user %s to repository %s: %w", userID, repoID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// UnlinkUser removes the user from the repository's visible-to set.
func (db *DB) UnlinkUser(ctx context.Context, repoID, userID string) (bool, error) {
	result, err := db.q.ExecContext(ctx,
		`DELETE FROM repository_users WHERE repository_id = ? AND user_id = ?`,
		repoID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: unlinking user %s from repository %s: %w", userID, repoID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// CountVisibleUsers counts every user linked to the repository. It reads the
// table, not any cached view, so inside a transaction it reflects the
// committed links of all other users plus this run's own changes.
func (db *DB) CountVisibleUsers(ctx context.Context, repoID string) (int, error) {
	var n int
	err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repository_users WHERE repository_id = ?`, repoID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting users of repository %s: %w", repoID, err)
	}
	return n, nil
}

// ListReposForUser returns every repository visible to the user, by name.
func (db *DB) ListReposForUser(ctx context.Context, userID string) ([]model.Repository, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT `+repoColumns+`
		 FROM repositories r
		 JOIN repository_users ru ON ru.repository_id = r.id
		 WHERE ru.user_id = ?
		 ORDER BY r.name, r.github_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing repositories for user %s: %w", userID, err)
	}
	return collectRepos(rows)
}

// ListReposByOwner returns every repository owned by owner, linked or not.
func (db *DB) ListReposByOwner(ctx context.Context, owner model.Owner) ([]model.Repository, error) {
	userID, orgID, err := ownerArgs(owner)
	if err != nil {
		return nil, err
	}

	column, id := "owner_user_id", userID
	if owner.Kind == model.OwnerOrganization {
		column, id = "owner_org_id", orgID
	}

	rows, err := db.q.QueryContext(ctx,
		`SELECT `+repoColumns+`
		 FROM repositories r
		 WHERE r.`+column+` = ?
		 ORDER BY r.name, r.github_id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing repositories for %s owner: %w", owner.Kind, err)
	}
	return collectRepos(rows)
}

func collectRepos(rows *sql.Rows) ([]model.Repository, error) {
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning repository row: %w", err)
		}
		repos = append(repos, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating repositories: %w", err)
	}
	return repos, nil
}
