// Package handlers provides HTTP handlers for the API.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/api/middleware"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/licensing"
	"github.com/sarvex/infisical/internal/metrics"
	"github.com/sarvex/infisical/internal/models"
	"github.com/sarvex/infisical/internal/notifications"
)

// LicenseStore defines the interface for license persistence operations.
type LicenseStore interface {
	middleware.GuardStore
	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicensesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.License, error)
}

// LicenseGateway is the subset of the license server client the
// handlers use.
type LicenseGateway interface {
	IssueLicenseKey(ctx context.Context, email, description string) (*licensing.KeyGrant, error)
	FetchLicenseInfo(ctx context.Context, licenseKey string) (map[string]any, error)
}

// LicenseKeyMailer delivers issued license keys by email.
type LicenseKeyMailer interface {
	SendNewLicenseKey(to []string, data notifications.NewLicenseKeyData) error
}

// LicensesHandler handles license-related HTTP endpoints.
type LicensesHandler struct {
	store   LicenseStore
	keys    *crypto.KeyManager
	gateway LicenseGateway
	mailer  LicenseKeyMailer
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(store LicenseStore, keys *crypto.KeyManager, gateway LicenseGateway, mailer LicenseKeyMailer, m *metrics.Metrics, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		store:   store,
		keys:    keys,
		gateway: gateway,
		mailer:  mailer,
		metrics: m,
		logger:  logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
// The guards run before each handler; handlers read the license and
// membership records the guards attached.
func (h *LicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.POST("", middleware.OrganizationAuth(h.store, middleware.OrganizationAuthOptions{
			AcceptedRoles:    []models.OrgRole{models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember},
			AcceptedStatuses: []models.MembershipStatus{models.MembershipStatusAccepted},
			Location:         middleware.LocationBody,
		}, h.logger), h.Create)

		licenses.GET("/:licenseId", middleware.LicenseAuth(h.store, middleware.LicenseAuthOptions{
			AcceptedRoles:    []models.OrgRole{models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember},
			AcceptedStatuses: []models.MembershipStatus{models.MembershipStatusAccepted},
			Location:         middleware.LocationPath,
		}, h.logger), h.Get)
	}
}

type createLicenseRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
}

// Create issues an additional license for the guarded organization.
//
//	@Summary		Create additional license
//	@Description	Issues a new license key, stores it encrypted, and emails the plaintext key
//	@Tags			Licenses
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createLicenseRequest	true	"License request"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/licenses [post]
// POST /api/v1/licenses
func (h *LicensesHandler) Create(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	var req createLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	if h.gateway == nil {
		h.logger.Warn().Msg("license server not configured")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	grant, err := h.gateway.IssueLicenseKey(c.Request.Context(), req.Email, org.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("issue license key")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	ciphertext, iv, tag, err := h.keys.EncryptString(grant.LicenseKey)
	if err != nil {
		// The remote key exists but will never be persisted locally.
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("encrypt license key; remote key orphaned")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	license := models.NewLicense(org.ID, models.LicenseTypeAdditional, ciphertext, iv, tag)
	if err := h.store.CreateLicense(c.Request.Context(), license); err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("persist license; remote key orphaned")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
		return
	}

	// One-time disclosure of the plaintext key. The key is not stored
	// in plaintext anywhere, so a delivery failure fails the operation.
	if h.mailer != nil {
		err := h.mailer.SendNewLicenseKey([]string{req.Email}, notifications.NewLicenseKeyData{
			LicenseKey:       grant.LicenseKey,
			OrganizationName: org.Name,
		})
		if err != nil {
			h.logger.Error().Err(err).Str("license_id", license.ID.String()).Msg("send license key email")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create additional license"})
			return
		}
	} else {
		h.logger.Warn().Str("license_id", license.ID.String()).Msg("smtp not configured, license key email skipped")
	}

	if h.metrics != nil {
		h.metrics.LicensesIssued.WithLabelValues(string(models.LicenseTypeAdditional)).Inc()
	}

	response := gin.H{
		"id":         license.ID,
		"type":       license.Type,
		"licenseKey": grant.LicenseKey,
	}
	for k, v := range grant.Metadata {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

// Get returns the guarded license with its live gateway metadata.
//
//	@Summary		Get license
//	@Description	Decrypts the stored key and fetches current metadata from the license server
//	@Tags			Licenses
//	@Produce		json
//	@Param			licenseId	path		string	true	"License ID"
//	@Success		200			{object}	map[string]any
//	@Failure		400			{object}	map[string]string
//	@Failure		404			{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/licenses/{licenseId} [get]
// GET /api/v1/licenses/:licenseId
func (h *LicensesHandler) Get(c *gin.Context) {
	license := middleware.GetLicense(c)
	if license == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get license"})
		return
	}

	if h.gateway == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get license"})
		return
	}

	key, err := h.keys.DecryptString(license.KeyCiphertext, license.KeyIV, license.KeyAuthTag)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", license.ID.String()).Msg("decrypt license key")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get license"})
		return
	}

	info, err := h.gateway.FetchLicenseInfo(c.Request.Context(), key)
	if err != nil {
		h.logger.Error().Err(err).Str("license_id", license.ID.String()).Msg("fetch license info")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get license"})
		return
	}

	response := gin.H{
		"id":   license.ID,
		"type": license.Type,
	}
	for k, v := range info {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}
