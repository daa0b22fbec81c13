package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/internal/service"
	"github.com/thalora/thalora-auth/pkg/config"
	"github.com/thalora/thalora-auth/pkg/middleware"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	services *service.Services
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services *service.Services, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		cfg:      cfg,
		logger:   logger.Named("handlers"),
	}
}

// RegisterRoutes attaches all routes to the router
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/status", h.Status)
	router.GET("/health", h.Health)

	auth := router.Group("/auth")
	{
		auth.POST("/register/begin", h.BeginRegistration)
		auth.POST("/register/complete", h.FinishRegistration)
		auth.POST("/login/begin", h.BeginLogin)
		auth.POST("/login/complete", h.FinishLogin)
		auth.GET("/test-mode", h.TestMode)
	}

	protected := router.Group("/auth")
	protected.Use(middleware.AuthMiddleware(h.cfg, h.services.TokenBlacklist, h.logger))
	{
		protected.GET("/me", h.Me)
		protected.POST("/logout", h.Logout)
	}
}

// Status handles the /status endpoint
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "thalora-auth",
	})
}

// Health handles the /health endpoint
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "healthy"})
}

// TestMode reports whether the stub verifier is active. This is the only
// externally observable trace of test mode.
func (h *Handlers) TestMode(c *gin.Context) {
	c.JSON(200, gin.H{"enabled": h.services.Passkey.TestModeEnabled()})
}

// beginRegistrationRequest is the body for POST /auth/register/begin
type beginRegistrationRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// BeginRegistration starts a registration ceremony
func (h *Handlers) BeginRegistration(c *gin.Context) {
	var req beginRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request body"})
		return
	}

	options, err := h.services.Passkey.BeginRegistration(c.Request.Context(), req.Username, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername):
			c.JSON(400, gin.H{"error": "Invalid username"})
		case errors.Is(err, service.ErrInvalidEmail):
			c.JSON(400, gin.H{"error": "Invalid email"})
		case errors.Is(err, service.ErrDuplicateUsername):
			c.JSON(409, gin.H{"error": "Username already exists"})
		case errors.Is(err, service.ErrDuplicateEmail):
			c.JSON(409, gin.H{"error": "Email already exists"})
		default:
			h.logger.Error("Failed to start registration", zap.Error(err))
			c.JSON(500, gin.H{"error": "Failed to start registration"})
		}
		return
	}

	c.JSON(200, options)
}

// finishRegistrationRequest is the body for POST /auth/register/complete
type finishRegistrationRequest struct {
	UserID     string                     `json:"user_id"`
	Credential *service.CredentialPayload `json:"credential"`
}

// FinishRegistration completes a registration ceremony
func (h *Handlers) FinishRegistration(c *gin.Context) {
	var req finishRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.Credential == nil {
		c.JSON(400, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.services.Passkey.FinishRegistration(c.Request.Context(), req.UserID, req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeExpiredOrMissing):
			c.JSON(400, gin.H{"error": "No registration in progress"})
		case errors.Is(err, service.ErrDuplicateUsername):
			c.JSON(409, gin.H{"error": "Username already exists"})
		case errors.Is(err, service.ErrDuplicateEmail):
			c.JSON(409, gin.H{"error": "Email already exists"})
		case errors.Is(err, service.ErrInvalidCredential):
			c.JSON(400, gin.H{"error": "Invalid credential"})
		default:
			h.logger.Error("Failed to complete registration", zap.Error(err))
			c.JSON(500, gin.H{"error": "Failed to complete registration"})
		}
		return
	}

	c.JSON(200, gin.H{
		"user_id":  result.User.ID,
		"username": result.User.Username,
		"email":    result.User.Email,
		"token":    result.Token,
	})
}

// beginLoginRequest is the body for POST /auth/login/begin
type beginLoginRequest struct {
	Username string `json:"username"`
}

// BeginLogin starts a login ceremony
func (h *Handlers) BeginLogin(c *gin.Context) {
	var req beginLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request body"})
		return
	}

	options, err := h.services.Passkey.BeginLogin(c.Request.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername):
			c.JSON(400, gin.H{"error": "Invalid username"})
		case errors.Is(err, service.ErrUnknownUsername):
			c.JSON(404, gin.H{"error": "User not found"})
		default:
			h.logger.Error("Failed to start login", zap.Error(err))
			c.JSON(500, gin.H{"error": "Failed to start login"})
		}
		return
	}

	c.JSON(200, options)
}

// finishLoginRequest is the body for POST /auth/login/complete
type finishLoginRequest struct {
	Username   string                     `json:"username"`
	Credential *service.CredentialPayload `json:"credential"`
}

// FinishLogin completes a login ceremony
func (h *Handlers) FinishLogin(c *gin.Context) {
	var req finishLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Credential == nil {
		c.JSON(400, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.services.Passkey.FinishLogin(c.Request.Context(), req.Username, req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeExpiredOrMissing):
			c.JSON(400, gin.H{"error": "No login in progress"})
		case errors.Is(err, service.ErrUnknownUsername):
			c.JSON(404, gin.H{"error": "User not found"})
		case errors.Is(err, service.ErrInvalidCredential):
			// Covers bad signatures and counter replays alike; the client
			// gets no hint which.
			c.JSON(401, gin.H{"error": "Authentication failed"})
		default:
			h.logger.Error("Failed to complete login", zap.Error(err))
			c.JSON(500, gin.H{"error": "Failed to complete login"})
		}
		return
	}

	c.JSON(200, gin.H{
		"user_id":  result.User.ID,
		"username": result.User.Username,
		"email":    result.User.Email,
		"token":    result.Token,
	})
}

// Me returns the authenticated user's account details
func (h *Handlers) Me(c *gin.Context) {
	userID := c.GetInt64("user_id")

	user, err := h.services.Passkey.UserInfo(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownUsername) {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to get user", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to get user"})
		return
	}

	c.JSON(200, gin.H{
		"user_id":    user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

// Logout revokes the presented session token
func (h *Handlers) Logout(c *gin.Context) {
	jti := c.GetString("jti")
	expiresAt, _ := c.Get("token_expires_at")

	expiry, ok := expiresAt.(time.Time)
	if !ok || expiry.IsZero() {
		expiry = time.Now().Add(time.Duration(h.cfg.JWT.ExpiryHours) * time.Hour)
	}

	h.services.TokenBlacklist.Add(jti, expiry)

	c.JSON(200, gin.H{"message": "Logged out"})
}
