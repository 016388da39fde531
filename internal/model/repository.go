package model

import (
	"fmt"
	"time"
)

// OwnerKind tags which kind of entity owns a repository.
type OwnerKind int

const (
	OwnerUser OwnerKind = iota + 1
	OwnerOrganization
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerOrganization:
		return "organization"
	default:
		return fmt.Sprintf("OwnerKind(%d)", int(k))
	}
}

// Owner is a tagged variant: exactly one of UserID or OrgID is set,
// selected by Kind. Build values with UserOwner / OrgOwner instead of
// filling the struct by hand.
type Owner struct {
	Kind   OwnerKind `json:"kind"`
	UserID string    `json:"userId,omitempty"`
	OrgID  string    `json:"orgId,omitempty"`
}

// UserOwner returns an Owner pointing at a user.
func UserOwner(userID string) Owner {
	return Owner{Kind: OwnerUser, UserID: userID}
}

// OrgOwner returns an Owner pointing at an organization.
func OrgOwner(orgID string) Owner {
	return Owner{Kind: OwnerOrganization, OrgID: orgID}
}

// Validate reports whether the variant is well formed.
func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerUser:
		if o.UserID == "" || o.OrgID != "" {
			return fmt.Errorf("user owner must set only UserID")
		}
	case OwnerOrganization:
		if o.OrgID == "" || o.UserID != "" {
			return fmt.Errorf("organization owner must set only OrgID")
		}
	default:
		return fmt.Errorf("unknown owner kind %d", int(o.Kind))
	}
	return nil
}

// Repository is one GitHub repository.
//
// GitHubID is the reconciliation join key: a record is matched across logins
// by GitHubID only, never by Name, because repositories can be renamed on
// GitHub. GitHubID is unique across all repositories regardless of owner.
//
// Ownership (Owner) and visibility (the repository_users join table) are
// different things: an organization repository is visible to every member
// who has logged in and seen it.
type Repository struct {
	ID        string    `json:"id"        db:"id"`
	GitHubID  int64     `json:"githubId"  db:"github_id"`
	Name      string    `json:"name"      db:"name"`
	Owner     Owner     `json:"owner"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
