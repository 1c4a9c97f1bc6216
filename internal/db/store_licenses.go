package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sarvex/infisical/internal/models"
)

// CreateLicense inserts a new license record. The partial unique index on
// organization-type licenses rejects a second seat-tracked record for the
// same organization.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, org_id, type, key_ciphertext, key_iv, key_auth_tag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, lic.ID, lic.OrgID, string(lic.Type), lic.KeyCiphertext, lic.KeyIV, lic.KeyAuthTag, lic.CreatedAt, lic.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByID returns the license record with the given ID.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return db.scanLicense(db.Pool.QueryRow(ctx, `
		SELECT id, org_id, type, key_ciphertext, key_iv, key_auth_tag, created_at, updated_at
		FROM licenses WHERE id = $1
	`, id))
}

// GetOrgLicense returns the organization-type license record for an
// organization, or ErrNotFound if the organization has none.
func (db *DB) GetOrgLicense(ctx context.Context, orgID uuid.UUID) (*models.License, error) {
	return db.scanLicense(db.Pool.QueryRow(ctx, `
		SELECT id, org_id, type, key_ciphertext, key_iv, key_auth_tag, created_at, updated_at
		FROM licenses WHERE org_id = $1 AND type = 'organization'
	`, orgID))
}

// GetLicensesByOrgID returns all license records for an organization.
func (db *DB) GetLicensesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, org_id, type, key_ciphertext, key_iv, key_auth_tag, created_at, updated_at
		FROM licenses WHERE org_id = $1
		ORDER BY created_at
	`, orgID)

	if err != nil {
		return nil, fmt.Errorf("get org licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		var lic models.License
		var licType string
		err := rows.Scan(&lic.ID, &lic.OrgID, &licType, &lic.KeyCiphertext, &lic.KeyIV, &lic.KeyAuthTag, &lic.CreatedAt, &lic.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		lic.Type = models.LicenseType(licType)
		licenses = append(licenses, &lic)
	}

	return licenses, rows.Err()
}

// GetLicensedOrgIDs returns the IDs of all organizations holding an
// organization-type license. Used by the periodic seat reconciliation sweep.
func (db *DB) GetLicensedOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT org_id FROM licenses WHERE type = 'organization'
	`)

	if err != nil {
		return nil, fmt.Errorf("get licensed org ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan licensed org id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *DB) scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var licType string
	err := row.Scan(&lic.ID, &lic.OrgID, &licType, &lic.KeyCiphertext, &lic.KeyIV, &lic.KeyAuthTag, &lic.CreatedAt, &lic.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	lic.Type = models.LicenseType(licType)
	return &lic, nil
}
