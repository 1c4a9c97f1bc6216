package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sarvex/infisical/internal/models"
)

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, org.ID, org.Name, org.CreatedAt, org.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganizationByID returns the organization with the given ID.
func (db *DB) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// GetUserOrganizations returns all organizations the user is a member of.
func (db *DB) GetUserOrganizations(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT o.id, o.name, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_memberships m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("get user organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, &org)
	}

	return orgs, rows.Err()
}

// CreateMembership inserts a new organization membership.
func (db *DB) CreateMembership(ctx context.Context, m *models.OrgMembership) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO org_memberships (id, user_id, org_id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.UserID, m.OrgID, string(m.Role), string(m.Status), m.CreatedAt, m.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// GetMembershipByID returns the membership with the given ID.
func (db *DB) GetMembershipByID(ctx context.Context, id uuid.UUID) (*models.OrgMembership, error) {
	return db.scanMembership(db.Pool.QueryRow(ctx, `
		SELECT id, user_id, org_id, role, status, created_at, updated_at
		FROM org_memberships WHERE id = $1
	`, id))
}

// GetMembershipByUserAndOrg returns a user's membership in an organization.
func (db *DB) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) (*models.OrgMembership, error) {
	return db.scanMembership(db.Pool.QueryRow(ctx, `
		SELECT id, user_id, org_id, role, status, created_at, updated_at
		FROM org_memberships WHERE user_id = $1 AND org_id = $2
	`, userID, orgID))
}

// GetMembershipsByOrgID returns all memberships of an organization with user details.
func (db *DB) GetMembershipsByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.OrgMembershipWithUser, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT m.id, m.user_id, m.org_id, m.role, m.status, u.email, u.name, m.created_at, m.updated_at
		FROM org_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1
		ORDER BY m.created_at
	`, orgID)

	if err != nil {
		return nil, fmt.Errorf("get org memberships: %w", err)
	}
	defer rows.Close()

	var members []*models.OrgMembershipWithUser
	for rows.Next() {
		var m models.OrgMembershipWithUser
		var role, status string
		err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &status, &m.Email, &m.Name, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = models.OrgRole(role)
		m.Status = models.MembershipStatus(status)
		members = append(members, &m)
	}

	return members, rows.Err()
}

// UpdateMembership updates a membership's role and status.
func (db *DB) UpdateMembership(ctx context.Context, m *models.OrgMembership) error {
	m.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE org_memberships SET role = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, m.ID, string(m.Role), string(m.Status), m.UpdatedAt)

	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMembership removes a membership by ID.
func (db *DB) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM org_memberships WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAcceptedMemberships returns the number of accepted memberships in an
// organization. This is the seat count reported to the license service.
func (db *DB) CountAcceptedMemberships(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM org_memberships
		WHERE org_id = $1 AND status = 'accepted'
	`, orgID).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("count accepted memberships: %w", err)
	}
	return count, nil
}

func (db *DB) scanMembership(row pgx.Row) (*models.OrgMembership, error) {
	var m models.OrgMembership
	var role, status string
	err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.Role = models.OrgRole(role)
	m.Status = models.MembershipStatus(status)
	return &m, nil
}
