package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, github_id, login, name, avatar_url, access_token, created_at, updated_at`

// CreateUser inserts a new user. The ID and timestamps are assigned here and
// written back into the caller's struct (pointer receiver).
//
// The UNIQUE constraint on github_id rejects a second row for the same GitHub
// account; the resolver looks up by GitHub ID first so it never hits it.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	token, err := db.sealToken(user.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlite: sealing token for githubID=%d: %w", user.GitHubID, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.GitHubID,
		user.Login,
		user.Name,
		user.AvatarURL,
		token,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting user (githubID=%d): %w", user.GitHubID, err)
	}
	return nil
}

// UpdateUser overwrites the mutable profile fields and the access token.
// github_id and created_at are immutable and never written here.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()

	token, err := db.sealToken(user.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlite: sealing token for user %s: %w", user.ID, err)
	}

	result, err := db.q.ExecContext(ctx,
		`UPDATE users
		 SET login = ?, name = ?, avatar_url = ?, access_token = ?, updated_at = ?
		 WHERE id = ?`,
		user.Login,
		user.Name,
		user.AvatarURL,
		token,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := db.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByGitHubID retrieves a user by their GitHub account ID.
func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID)
	u, err := db.scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(githubID, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return u, nil
}

func (db *DB) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var token string
	if err := row.Scan(
		&u.ID,
		&u.GitHubID,
		&u.Login,
		&u.Name,
		&u.AvatarURL,
		&token,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// A token sealed under a previous key cannot be opened. The next login
	// overwrites it, so the user stays readable with an empty token.
	plain, err := db.openToken(token)
	if err != nil {
		db.logger.Warn("discarding access token that cannot be opened",
			slog.String("userID", u.ID),
			slog.Int64("githubID", u.GitHubID),
			slog.String("error", err.Error()),
		)
		plain = ""
	}
	u.AccessToken = plain
	return &u, nil
}

func (db *DB) sealToken(token string) (string, error) {
	if db.sealer == nil || token == "" {
		return token, nil
	}
	return db.sealer.Seal(token)
}

func (db *DB) openToken(stored string) (string, error) {
	if db.sealer == nil || stored == "" {
		return stored, nil
	}
	return db.sealer.Open(stored)
}
