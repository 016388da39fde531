package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/repository"
)

var _ repository.OrganizationRepository = (*DB)(nil)

// GetOrganizationByName looks an organization up by its natural key.
func (db *DB) GetOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	var o model.Organization
	err := db.q.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM organizations WHERE name = ?`,
		name,
	).Scan(&o.ID, &o.Name, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("organization", name)
		}
		return nil, fmt.Errorf("sqlite: getting organization %q: %w", name, err)
	}
	return &o, nil
}

// CreateOrganization inserts an organization with only its name.
func (db *DB) CreateOrganization(ctx context.Context, org *model.Organization) error {
	now := time.Now()
	org.ID = xid.New().String()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting organization %q: %w", org.Name, err)
	}
	return nil
}

// AddMember links a user to an organization.
//
// INSERT OR IGNORE skips the row when the (organization_id, user_id) primary
// key already exists, so RowsAffected tells us whether anything changed.
func (db *DB) AddMember(ctx context.Context, orgID, userID string) (bool, error) {
	result, err := db.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO organization_members (organization_id, user_id) VALUES (?, ?)`,
		orgID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: adding user %s to organization %s: %w", userID, orgID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// ListOrganizationsForUser returns the organizations the user belongs to, by name.
func (db *DB) ListOrganizationsForUser(ctx context.Context, userID string) ([]model.Organization, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT o.id, o.name, o.created_at, o.updated_at
		 FROM organizations o
		 JOIN organization_members m ON m.organization_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY o.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing organizations for user %s: %w", userID, err)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning organization row: %w", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating organizations: %w", err)
	}
	return orgs, nil
}
