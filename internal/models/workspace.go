package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace represents a project workspace belonging to an organization.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkspace creates a new Workspace with a generated ID.
func NewWorkspace(orgID uuid.UUID, name string) *Workspace {
	now := time.Now()
	return &Workspace{
		ID:        uuid.New(),
		OrgID:     orgID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
