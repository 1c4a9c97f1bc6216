package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/api/middleware"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/metrics"
	"github.com/sarvex/infisical/internal/models"
	"github.com/sarvex/infisical/internal/notifications"
)

// OrganizationStore defines the interface for organization persistence
// operations.
type OrganizationStore interface {
	middleware.GuardStore
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetUserOrganizations(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateMembership(ctx context.Context, m *models.OrgMembership) error
	GetMembershipByID(ctx context.Context, id uuid.UUID) (*models.OrgMembership, error)
	GetMembershipsByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.OrgMembershipWithUser, error)
	UpdateMembership(ctx context.Context, m *models.OrgMembership) error
	DeleteMembership(ctx context.Context, id uuid.UUID) error
	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicensesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.License, error)
	GetWorkspacesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Workspace, error)
}

// SeatSynchronizer pushes seat counts after membership changes.
type SeatSynchronizer interface {
	Sync(ctx context.Context, orgID uuid.UUID)
}

// InviteMailer notifies users invited to an organization.
type InviteMailer interface {
	SendOrganizationInvite(to []string, data notifications.InviteData) error
}

// OrganizationsHandler handles organization-related HTTP endpoints.
type OrganizationsHandler struct {
	store   OrganizationStore
	keys    *crypto.KeyManager
	gateway LicenseGateway
	mailer  InviteMailer
	seats   SeatSynchronizer
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewOrganizationsHandler creates a new OrganizationsHandler.
func NewOrganizationsHandler(store OrganizationStore, keys *crypto.KeyManager, gateway LicenseGateway, mailer InviteMailer, seats SeatSynchronizer, m *metrics.Metrics, logger zerolog.Logger) *OrganizationsHandler {
	return &OrganizationsHandler{
		store:   store,
		keys:    keys,
		gateway: gateway,
		mailer:  mailer,
		seats:   seats,
		metrics: m,
		logger:  logger.With().Str("component", "organizations_handler").Logger(),
	}
}

// memberGuard admits any accepted member of the organization in the
// path.
func (h *OrganizationsHandler) memberGuard() gin.HandlerFunc {
	return middleware.OrganizationAuth(h.store, middleware.OrganizationAuthOptions{
		AcceptedRoles:    []models.OrgRole{models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember},
		AcceptedStatuses: []models.MembershipStatus{models.MembershipStatusAccepted},
		Location:         middleware.LocationPath,
	}, h.logger)
}

// adminGuard admits accepted owners and admins only.
func (h *OrganizationsHandler) adminGuard() gin.HandlerFunc {
	return middleware.OrganizationAuth(h.store, middleware.OrganizationAuthOptions{
		AcceptedRoles:    []models.OrgRole{models.OrgRoleOwner, models.OrgRoleAdmin},
		AcceptedStatuses: []models.MembershipStatus{models.MembershipStatusAccepted},
		Location:         middleware.LocationPath,
	}, h.logger)
}

// RegisterRoutes registers organization routes on the given router group.
func (h *OrganizationsHandler) RegisterRoutes(r *gin.RouterGroup) {
	orgs := r.Group("/organizations")
	{
		orgs.POST("", h.Create)
		orgs.GET("", h.List)
		orgs.GET("/:id/licenses", h.memberGuard(), h.ListLicenses)
		orgs.GET("/:id/memberships", h.memberGuard(), h.ListMemberships)
		orgs.POST("/:id/memberships", h.adminGuard(), h.InviteMember)
		orgs.PATCH("/:id/memberships/:membershipId", h.adminGuard(), h.UpdateMembership)
		orgs.DELETE("/:id/memberships/:membershipId", h.adminGuard(), h.DeleteMembership)
		orgs.GET("/:id/workspaces", h.memberGuard(), h.ListWorkspaces)
	}
}

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create creates an organization owned by the caller. When the license
// server is configured, an organization-type license is provisioned as
// part of creation.
//
//	@Summary		Create organization
//	@Tags			Organizations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createOrganizationRequest	true	"Organization"
//	@Success		200		{object}	models.Organization
//	@Failure		400		{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/organizations [post]
// POST /api/v1/organizations
func (h *OrganizationsHandler) Create(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization name is required"})
		return
	}

	org := models.NewOrganization(req.Name)
	if err := h.store.CreateOrganization(c.Request.Context(), org); err != nil {
		h.logger.Error().Err(err).Msg("create organization")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create organization"})
		return
	}

	membership := models.NewOrgMembership(user.ID, org.ID, models.OrgRoleOwner, models.MembershipStatusAccepted)
	if err := h.store.CreateMembership(c.Request.Context(), membership); err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("create owner membership")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create organization"})
		return
	}

	// License provisioning happens only when the license server is
	// configured. A provisioning failure fails the request but the
	// organization row persists; there is no compensation.
	if h.gateway != nil {
		if err := h.provisionOrgLicense(c.Request.Context(), org, user.Email); err != nil {
			h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("provision organization license")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create organization"})
			return
		}
	}

	c.JSON(http.StatusOK, org)
}

func (h *OrganizationsHandler) provisionOrgLicense(ctx context.Context, org *models.Organization, email string) error {
	grant, err := h.gateway.IssueLicenseKey(ctx, email, org.Name)
	if err != nil {
		return err
	}

	ciphertext, iv, tag, err := h.keys.EncryptString(grant.LicenseKey)
	if err != nil {
		return err
	}

	license := models.NewLicense(org.ID, models.LicenseTypeOrganization, ciphertext, iv, tag)
	if err := h.store.CreateLicense(ctx, license); err != nil {
		return err
	}

	if h.metrics != nil {
		h.metrics.LicensesIssued.WithLabelValues(string(models.LicenseTypeOrganization)).Inc()
	}
	return nil
}

// List returns the organizations the caller belongs to.
//
//	@Summary		List organizations
//	@Tags			Organizations
//	@Produce		json
//	@Success		200	{object}	map[string][]models.Organization
//	@Security		SessionAuth
//	@Router			/organizations [get]
// GET /api/v1/organizations
func (h *OrganizationsHandler) List(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	orgs, err := h.store.GetUserOrganizations(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("list organizations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list organizations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

// ListLicenses returns every license of the organization with live
// gateway metadata. The listing aborts on the first decrypt or gateway
// failure; no partial body is returned.
//
//	@Summary		List organization licenses
//	@Tags			Organizations
//	@Produce		json
//	@Param			id	path		string	true	"Organization ID"
//	@Success		200	{object}	map[string][]map[string]any
//	@Failure		400	{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/organizations/{id}/licenses [get]
// GET /api/v1/organizations/:id/licenses
func (h *OrganizationsHandler) ListLicenses(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get organization licenses"})
		return
	}

	records, err := h.store.GetLicensesByOrgID(c.Request.Context(), org.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("load licenses")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get organization licenses"})
		return
	}

	if h.gateway == nil && len(records) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get organization licenses"})
		return
	}

	licenses := make([]gin.H, 0, len(records))
	for _, record := range records {
		key, err := h.keys.DecryptString(record.KeyCiphertext, record.KeyIV, record.KeyAuthTag)
		if err != nil {
			h.logger.Error().Err(err).Str("license_id", record.ID.String()).Msg("decrypt license key")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get organization licenses"})
			return
		}

		info, err := h.gateway.FetchLicenseInfo(c.Request.Context(), key)
		if err != nil {
			h.logger.Error().Err(err).Str("license_id", record.ID.String()).Msg("fetch license info")
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to get organization licenses"})
			return
		}

		entry := gin.H{
			"id":         record.ID,
			"type":       record.Type,
			"licenseKey": key,
		}
		for k, v := range info {
			entry[k] = v
		}
		licenses = append(licenses, entry)
	}

	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

// ListMemberships returns the organization's memberships with user
// details.
//
//	@Summary		List organization memberships
//	@Tags			Organizations
//	@Produce		json
//	@Param			id	path		string	true	"Organization ID"
//	@Success		200	{object}	map[string][]models.OrgMembershipWithUser
//	@Security		SessionAuth
//	@Router			/organizations/{id}/memberships [get]
// GET /api/v1/organizations/:id/memberships
func (h *OrganizationsHandler) ListMemberships(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	memberships, err := h.store.GetMembershipsByOrgID(c.Request.Context(), org.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("list memberships")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list memberships"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"memberships": memberships})
}

type inviteMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// InviteMember adds a registered user to the organization with an
// invited membership and emails them. Invited members do not count
// toward the seat total, so no seat sync happens until the membership
// is accepted.
//
//	@Summary		Invite organization member
//	@Tags			Organizations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Organization ID"
//	@Param			request	body		inviteMemberRequest	true	"Invitee"
//	@Success		200		{object}	models.OrgMembership
//	@Failure		400		{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/organizations/{id}/memberships [post]
// POST /api/v1/organizations/:id/memberships
func (h *OrganizationsHandler) InviteMember(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	var req inviteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid invitee email is required"})
		return
	}
	role := models.OrgRoleMember
	if req.Role != "" {
		if !models.IsValidOrgRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		role = models.OrgRole(req.Role)
	}

	invitee, err := h.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no registered user with that email"})
			return
		}
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("look up invitee")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invite member"})
		return
	}

	if _, err := h.store.GetMembershipByUserAndOrg(c.Request.Context(), invitee.ID, org.ID); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user already belongs to this organization"})
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("check existing membership")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invite member"})
		return
	}

	membership := models.NewOrgMembership(invitee.ID, org.ID, role, models.MembershipStatusInvited)
	if err := h.store.CreateMembership(c.Request.Context(), membership); err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("create invited membership")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invite member"})
		return
	}

	// The invitation is visible in the membership listing regardless;
	// a failed notification is logged, not surfaced.
	if h.mailer != nil {
		data := notifications.InviteData{OrganizationName: org.Name, InviterName: user.Name}
		if err := h.mailer.SendOrganizationInvite([]string{invitee.Email}, data); err != nil {
			h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("send organization invite email")
		}
	}

	c.JSON(http.StatusOK, membership)
}

type updateMembershipRequest struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// UpdateMembership changes a membership's role or status. Accepting an
// invitation or changing status alters the seat count, so a seat sync
// is kicked off after the write.
//
//	@Summary		Update organization membership
//	@Tags			Organizations
//	@Accept			json
//	@Produce		json
//	@Param			id				path		string						true	"Organization ID"
//	@Param			membershipId	path		string						true	"Membership ID"
//	@Param			request			body		updateMembershipRequest	true	"Changes"
//	@Success		200				{object}	models.OrgMembership
//	@Failure		404				{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/organizations/{id}/memberships/{membershipId} [patch]
// PATCH /api/v1/organizations/:id/memberships/:membershipId
func (h *OrganizationsHandler) UpdateMembership(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	membershipID, err := uuid.Parse(c.Param("membershipId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}

	var req updateMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Role == "" && req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if req.Role != "" && !models.IsValidOrgRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if req.Status != "" && !models.IsValidMembershipStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	membership, err := h.store.GetMembershipByID(c.Request.Context(), membershipID)
	if err != nil || membership.OrgID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}

	if req.Role != "" {
		membership.Role = models.OrgRole(req.Role)
	}
	if req.Status != "" {
		membership.Status = models.MembershipStatus(req.Status)
	}

	if err := h.store.UpdateMembership(c.Request.Context(), membership); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
			return
		}
		h.logger.Error().Err(err).Str("membership_id", membershipID.String()).Msg("update membership")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update membership"})
		return
	}

	h.syncSeats(org.ID)

	c.JSON(http.StatusOK, membership)
}

// DeleteMembership removes a membership and kicks off a seat sync.
//
//	@Summary		Remove organization membership
//	@Tags			Organizations
//	@Produce		json
//	@Param			id				path		string	true	"Organization ID"
//	@Param			membershipId	path		string	true	"Membership ID"
//	@Success		200				{object}	map[string]string
//	@Failure		404				{object}	map[string]string
//	@Security		SessionAuth
//	@Router			/organizations/{id}/memberships/{membershipId} [delete]
// DELETE /api/v1/organizations/:id/memberships/:membershipId
func (h *OrganizationsHandler) DeleteMembership(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	membershipID, err := uuid.Parse(c.Param("membershipId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}

	membership, err := h.store.GetMembershipByID(c.Request.Context(), membershipID)
	if err != nil || membership.OrgID != org.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}

	if err := h.store.DeleteMembership(c.Request.Context(), membershipID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
			return
		}
		h.logger.Error().Err(err).Str("membership_id", membershipID.String()).Msg("delete membership")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete membership"})
		return
	}

	h.syncSeats(org.ID)

	c.JSON(http.StatusOK, gin.H{"message": "membership deleted"})
}

// syncSeats reports the new seat count in the background. The request
// that changed membership never waits on, or fails from, the license
// server.
func (h *OrganizationsHandler) syncSeats(orgID uuid.UUID) {
	if h.seats == nil {
		return
	}
	go h.seats.Sync(context.Background(), orgID)
}

// ListWorkspaces returns the organization's workspaces.
//
//	@Summary		List organization workspaces
//	@Tags			Organizations
//	@Produce		json
//	@Param			id	path		string	true	"Organization ID"
//	@Success		200	{object}	map[string][]models.Workspace
//	@Security		SessionAuth
//	@Router			/organizations/{id}/workspaces [get]
// GET /api/v1/organizations/:id/workspaces
func (h *OrganizationsHandler) ListWorkspaces(c *gin.Context) {
	org := middleware.GetOrganization(c)
	if org == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	workspaces, err := h.store.GetWorkspacesByOrgID(c.Request.Context(), org.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", org.ID.String()).Msg("list workspaces")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workspaces"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"workspaces": workspaces})
}
