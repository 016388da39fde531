package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

// OrgResult counts what ResolveOrganizations changed.
type OrgResult struct {
	Created          int `json:"created"`
	MembershipsAdded int `json:"membershipsAdded"`
}

// ResolveOrganizations find-or-creates every named organization and makes
// the user a member of each. The returned map is keyed by organization name.
//
// Membership is additive only: organizations the snapshot no longer
// mentions keep the user as a member.
func ResolveOrganizations(ctx context.Context, orgs repository.OrganizationRepository, user *model.User, names []string) (map[string]*model.Organization, OrgResult, error) {
	var res OrgResult
	resolved := make(map[string]*model.Organization, len(names))

	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue
		}
		if name == "" {
			return nil, res, apperror.ValidationFailed("organization", "organization name must not be empty")
		}

		org, err := orgs.GetOrganizationByName(ctx, name)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			org = &model.Organization{Name: name}
			if err := orgs.CreateOrganization(ctx, org); err != nil {
				return nil, res, fmt.Errorf("service/organization: creating %q: %w", name, err)
			}
			res.Created++
		case err != nil:
			return nil, res, fmt.Errorf("service/organization: looking up %q: %w", name, err)
		}

		added, err := orgs.AddMember(ctx, org.ID, user.ID)
		if err != nil {
			return nil, res, fmt.Errorf("service/organization: adding user %s to %q: %w", user.ID, name, err)
		}
		if added {
			res.MembershipsAdded++
		}
		resolved[name] = org
	}

	return resolved, res, nil
}
