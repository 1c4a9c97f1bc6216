package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sarvex/infisical/internal/models"
)

// CreateWorkspace inserts a new workspace.
func (db *DB) CreateWorkspace(ctx context.Context, w *models.Workspace) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO workspaces (id, org_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.OrgID, w.Name, w.CreatedAt, w.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// GetWorkspacesByOrgID returns all workspaces for an organization.
func (db *DB) GetWorkspacesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Workspace, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, org_id, name, created_at, updated_at
		FROM workspaces WHERE org_id = $1
		ORDER BY created_at
	`, orgID)

	if err != nil {
		return nil, fmt.Errorf("get org workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*models.Workspace
	for rows.Next() {
		var w models.Workspace
		if err := rows.Scan(&w.ID, &w.OrgID, &w.Name, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, &w)
	}

	return workspaces, rows.Err()
}
