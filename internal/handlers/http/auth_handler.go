package http

import (
	"net/http"
	"strings"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/pkg/errors"
	"roomcast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthHandler issues participant tokens for the relay. It is meant to sit behind the
// service token: the host application decides who may join as which role.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

// SetupRoutes sets up auth routes
func (h *AuthHandler) SetupRoutes(router gin.IRouter, guard gin.HandlerFunc) {
	api := router.Group("/api/v1/auth")
	api.Use(guard)
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	ParticipantID string      `json:"participantId" binding:"max=100"`
	Name          string      `json:"name" binding:"required,max=100"`
	Role          domain.Role `json:"role" binding:"required"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.ParticipantID == "" {
		req.ParticipantID = uuid.NewString()
	}

	if err := validation.ValidateParticipantID(req.ParticipantID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if !req.Role.Valid() {
		c.Error(errors.NewInvalidInputError("unknown role").WithContext("role", req.Role))
		return
	}

	participant := domain.Participant{
		ID:   domain.ParticipantID(req.ParticipantID),
		Name: req.Name,
		Role: req.Role,
	}
	token, err := h.authService.GenerateToken(participant)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"participantId": participant.ID,
		"role":          participant.Role,
		"token":         token,
		"expiresIn":     int(h.tokenTTL / time.Second),
	})
}
