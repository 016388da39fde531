// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — there is no inheritance, so
// relationships (user ↔ organization ↔ repository) are plain ID references.
package model

import "time"

// User represents a local account tied one-to-one to a GitHub identity.
//
// We use GitHub OAuth as the identity provider, so the primary external
// identifier is the GitHub user ID (an integer). We still generate our own
// internal string ID (xid) to avoid tying our primary keys to a third-party's
// numbering scheme.
//
// WHY GitHubID int64?
// GitHub user IDs are integers (e.g. 1234567). The UNIQUE constraint on
// github_id in the DB ensures one GitHub account maps to exactly one row.
//
// Name and AccessToken are overwritten on every login: GitHub is always
// authoritative for them. AccessToken is never serialized to JSON.
type User struct {
	ID          string    `json:"id"        db:"id"`
	GitHubID    int64     `json:"githubId"  db:"github_id"`
	Login       string    `json:"login"     db:"login"` // GitHub username, e.g. "georgegit"
	Name        string    `json:"name"      db:"name"`  // Display name, e.g. "George Git"
	AvatarURL   string    `json:"avatarUrl" db:"avatar_url"`
	AccessToken string    `json:"-"         db:"access_token"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
