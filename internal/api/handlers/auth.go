package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/api/middleware"
	"github.com/sarvex/infisical/internal/auth"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/models"
)

// UserStore defines the interface for user persistence operations.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	store    UserStore
	sessions *auth.SessionStore
	logger   zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store UserStore, sessions *auth.SessionStore, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		store:    store,
		sessions: sessions,
		logger:   logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterPublicRoutes registers authentication routes that don't
// require an existing session.
func (h *AuthHandler) RegisterPublicRoutes(r *gin.Engine) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/logout", h.Logout)
	}
}

// RegisterRoutes registers session-scoped routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// Register creates a new user account.
//
//	@Summary	Register a new user
//	@Tags		Auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		registerRequest	true	"Registration"
//	@Success	200		{object}	models.User
//	@Failure	400		{object}	map[string]string
//	@Router		/auth/register [post]
// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password, and name are required"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.store.GetUserByEmail(c.Request.Context(), req.Email); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "an account with this email already exists"})
		return
	}

	user := models.NewUser(req.Email, req.Name, hash)
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.logger.Error().Err(err).Msg("create user")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to register"})
		return
	}

	c.JSON(http.StatusOK, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates a user and establishes a cookie session.
//
//	@Summary	Log in
//	@Tags		Auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		loginRequest	true	"Credentials"
//	@Success	200		{object}	map[string]any
//	@Failure	401		{object}	map[string]string
//	@Router		/auth/login [post]
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.Error().Err(err).Msg("load user for login")
		}
		// Same response for unknown email and wrong password
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	sessionUser := &auth.SessionUser{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		AuthenticatedAt: time.Now().UTC(),
	}
	if err := h.sessions.SetUser(c.Request, c.Writer, sessionUser); err != nil {
		h.logger.Error().Err(err).Msg("establish session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to establish session"})
		return
	}

	h.logger.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout clears the caller's session.
//
//	@Summary	Log out
//	@Tags		Auth
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/auth/logout [post]
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.ClearUser(c.Request, c.Writer); err != nil {
		h.logger.Warn().Err(err).Msg("clear session")
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user's profile.
//
//	@Summary	Current user
//	@Tags		Auth
//	@Produce	json
//	@Success	200	{object}	models.User
//	@Failure	401	{object}	map[string]string
//	@Security	SessionAuth
//	@Router		/me [get]
// GET /api/v1/me
func (h *AuthHandler) Me(c *gin.Context) {
	sessionUser := middleware.RequireUser(c)
	if sessionUser == nil {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), sessionUser.ID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired, please log in again"})
		return
	}

	c.JSON(http.StatusOK, user)
}
