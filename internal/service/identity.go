package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// ResolveIdentity maps the remote identity to a local user.
//
// An unseen GitHub ID creates a user. A known one keeps its local ID and has
// its name, login, avatar and credential overwritten unconditionally: GitHub
// is authoritative for them. Users are never deleted here.
func ResolveIdentity(ctx context.Context, users repository.UserRepository, identity model.RemoteIdentity, credential string) (*model.User, bool, error) {
	if identity.GitHubID == 0 {
		return nil, false, apperror.ValidationFailed("github_id", "remote identity has no GitHub ID")
	}

	user, err := users.GetUserByGitHubID(ctx, identity.GitHubID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			GitHubID:    identity.GitHubID,
			Login:       identity.Login,
			Name:        identity.DisplayName(),
			AvatarURL:   identity.AvatarURL,
			AccessToken: credential,
		}
		if err := users.CreateUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("service/identity: creating user (githubID=%d): %w", identity.GitHubID, err)
		}
		return user, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("service/identity: looking up user (githubID=%d): %w", identity.GitHubID, err)
	}

	user.Login = identity.Login
	user.Name = identity.DisplayName()
	user.AvatarURL = identity.AvatarURL
	user.AccessToken = credential
	if err := users.UpdateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("service/identity: updating user %s: %w", user.ID, err)
	}
	return user, false, nil
}
