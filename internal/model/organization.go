package model

import "time"

// Organization is a GitHub organization that owns repositories a user can see.
//
// GitHub identifies an organization by its login in the repository payload,
// so Name is the natural key (UNIQUE in the DB). Organizations are created
// the first time any user's snapshot references them and are never renamed
// or deleted afterwards.
type Organization struct {
	ID        string    `json:"id"        db:"id"`
	Name      string    `json:"name"      db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
