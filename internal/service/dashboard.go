package service

import (
	"context"
	"fmt"

	"github.com/sakif/gitreports/internal/model"
)

// RepositoryView is a repository as the dashboard shows it. OrganizationName
// is empty for user-owned repositories.
type RepositoryView struct {
	model.Repository
	OrganizationName string `json:"organizationName,omitempty"`
}

// Dashboard is everything the home page shows for a logged-in user.
type Dashboard struct {
	User          *model.User          `json:"user"`
	Organizations []model.Organization `json:"organizations"`
	Repositories  []RepositoryView     `json:"repositories"`
}

// Dashboard loads the user, their organizations and the repositories they
// can see. Reads go straight to the gateway; no lock is taken.
func (s *AuthService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	orgs, err := s.gateway.ListOrganizationsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/dashboard: listing organizations: %w", err)
	}

	repos, err := s.gateway.ListReposForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/dashboard: listing repositories: %w", err)
	}

	names := make(map[string]string, len(orgs))
	for _, o := range orgs {
		names[o.ID] = o.Name
	}

	views := make([]RepositoryView, 0, len(repos))
	for _, r := range repos {
		v := RepositoryView{Repository: r}
		if r.Owner.Kind == model.OwnerOrganization {
			v.OrganizationName = names[r.Owner.OrgID]
		}
		views = append(views, v)
	}

	return &Dashboard{
		User:          user,
		Organizations: orgs,
		Repositories:  views,
	}, nil
}
