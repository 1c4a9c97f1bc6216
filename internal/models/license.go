package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseType distinguishes the seat-tracked organization license from
// standalone purchased licenses.
type LicenseType string

const (
	// LicenseTypeOrganization is the seat-tracking license tied to an
	// organization's accepted membership count. At most one exists per
	// organization.
	LicenseTypeOrganization LicenseType = "organization"
	// LicenseTypeAdditional is a standalone purchased license with no
	// seat-sync obligation.
	LicenseTypeAdditional LicenseType = "additional"
)

// IsValidLicenseType checks if the given type is a valid license type.
func IsValidLicenseType(t string) bool {
	switch LicenseType(t) {
	case LicenseTypeOrganization, LicenseTypeAdditional:
		return true
	}
	return false
}

// License binds an organization to an encrypted license key issued by the
// remote license service. The plaintext key is never persisted; the three
// cipher fields are the base64-encoded output of a single AES-256-GCM
// encryption call and must be decrypted together.
type License struct {
	ID            uuid.UUID   `json:"id"`
	OrgID         uuid.UUID   `json:"org_id"`
	Type          LicenseType `json:"type"`
	KeyCiphertext string      `json:"-"`
	KeyIV         string      `json:"-"`
	KeyAuthTag    string      `json:"-"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewLicense creates a new License record with a generated ID.
func NewLicense(orgID uuid.UUID, licenseType LicenseType, ciphertext, iv, authTag string) *License {
	now := time.Now()
	return &License{
		ID:            uuid.New(),
		OrgID:         orgID,
		Type:          licenseType,
		KeyCiphertext: ciphertext,
		KeyIV:         iv,
		KeyAuthTag:    authTag,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
