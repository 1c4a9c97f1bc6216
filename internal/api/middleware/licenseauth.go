package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/models"
)

// IDLocation names where in the request a guard finds its resource id.
type IDLocation string

const (
	// LocationPath reads the id from a path parameter.
	LocationPath IDLocation = "path"
	// LocationBody reads the id from the JSON request body.
	LocationBody IDLocation = "body"
	// LocationQuery reads the id from a query parameter.
	LocationQuery IDLocation = "query"
)

// GuardStore provides the lookups the authorization guards need.
type GuardStore interface {
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) (*models.OrgMembership, error)
}

// LicenseAuthOptions configures the license authorization guard.
type LicenseAuthOptions struct {
	// AcceptedRoles is the set of organization roles permitted through.
	AcceptedRoles []models.OrgRole
	// AcceptedStatuses is the set of membership statuses permitted.
	AcceptedStatuses []models.MembershipStatus
	// Location is where the license id is read from. The path
	// parameter and query/body field are all named "licenseId".
	Location IDLocation
}

// LicenseAuth returns a guard that authorizes access to a single
// license record. It resolves the license, then the caller's membership
// in the license's organization, checks role and status, and attaches
// both to the context. The guard only reads; rejection leaves no
// side effects.
func LicenseAuth(store GuardStore, opts LicenseAuthOptions, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "license_auth").Logger()

	return func(c *gin.Context) {
		user := RequireUser(c)
		if user == nil {
			return
		}

		licenseID, ok := extractID(c, opts.Location, "licenseId")
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "failed to locate license"})
			return
		}

		license, err := store.GetLicenseByID(c.Request.Context(), licenseID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "failed to locate license"})
				return
			}
			log.Error().Err(err).Str("license_id", licenseID.String()).Msg("load license")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		membership, err := store.GetMembershipByUserAndOrg(c.Request.Context(), user.ID, license.OrgID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "you're not a member of this organization"})
				return
			}
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("load membership")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if !roleAccepted(membership.Role, opts.AcceptedRoles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient organization role"})
			return
		}
		if !statusAccepted(membership.Status, opts.AcceptedStatuses) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "membership status not permitted"})
			return
		}

		c.Set(string(LicenseContextKey), license)
		c.Set(string(MembershipContextKey), membership)
		c.Next()
	}
}

// OrganizationAuthOptions configures the organization authorization
// guard.
type OrganizationAuthOptions struct {
	AcceptedRoles    []models.OrgRole
	AcceptedStatuses []models.MembershipStatus
	// Location is where the organization id is read from. The path
	// parameter is named "id"; body and query use "organizationId".
	Location IDLocation
}

// OrganizationAuth returns a guard that authorizes access to an
// organization-scoped route. Same shape as LicenseAuth, keyed by
// organization id.
func OrganizationAuth(store GuardStore, opts OrganizationAuthOptions, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "organization_auth").Logger()

	return func(c *gin.Context) {
		user := RequireUser(c)
		if user == nil {
			return
		}

		param := "organizationId"
		if opts.Location == LocationPath {
			param = "id"
		}
		orgID, ok := extractID(c, opts.Location, param)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "failed to locate organization"})
			return
		}

		org, err := store.GetOrganizationByID(c.Request.Context(), orgID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "failed to locate organization"})
				return
			}
			log.Error().Err(err).Str("org_id", orgID.String()).Msg("load organization")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		membership, err := store.GetMembershipByUserAndOrg(c.Request.Context(), user.ID, org.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "you're not a member of this organization"})
				return
			}
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("load membership")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if !roleAccepted(membership.Role, opts.AcceptedRoles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient organization role"})
			return
		}
		if !statusAccepted(membership.Status, opts.AcceptedStatuses) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "membership status not permitted"})
			return
		}

		c.Set(string(OrganizationContextKey), org)
		c.Set(string(MembershipContextKey), membership)
		c.Next()
	}
}

// extractID reads a UUID named field from the configured request
// location. Reading from the body restores it so handlers can bind the
// same payload again.
func extractID(c *gin.Context, location IDLocation, field string) (uuid.UUID, bool) {
	var raw string
	switch location {
	case LocationBody:
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return uuid.Nil, false
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(data))

		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			return uuid.Nil, false
		}
		raw, _ = body[field].(string)
	case LocationQuery:
		raw = c.Query(field)
	default:
		raw = c.Param(field)
	}

	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func roleAccepted(role models.OrgRole, accepted []models.OrgRole) bool {
	for _, r := range accepted {
		if role == r {
			return true
		}
	}
	return false
}

func statusAccepted(status models.MembershipStatus, accepted []models.MembershipStatus) bool {
	for _, s := range accepted {
		if status == s {
			return true
		}
	}
	return false
}

// GetLicense retrieves the guarded license from the Gin context.
func GetLicense(c *gin.Context) *models.License {
	v, exists := c.Get(string(LicenseContextKey))
	if !exists {
		return nil
	}
	license, ok := v.(*models.License)
	if !ok {
		return nil
	}
	return license
}

// GetMembership retrieves the caller's membership resolved by a guard.
func GetMembership(c *gin.Context) *models.OrgMembership {
	v, exists := c.Get(string(MembershipContextKey))
	if !exists {
		return nil
	}
	m, ok := v.(*models.OrgMembership)
	if !ok {
		return nil
	}
	return m
}

// GetOrganization retrieves the guarded organization from the Gin
// context.
func GetOrganization(c *gin.Context) *models.Organization {
	v, exists := c.Get(string(OrganizationContextKey))
	if !exists {
		return nil
	}
	org, ok := v.(*models.Organization)
	if !ok {
		return nil
	}
	return org
}
