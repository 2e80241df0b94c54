package middleware

import (
	"strings"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ParticipantKey = "participant"
	ServiceKey     = "service"
)

func bearerToken(c *gin.Context) (string, *errors.AppError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errors.NewUnauthorizedError("authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.NewUnauthorizedError("invalid authorization header format")
	}
	return parts[1], nil
}

// AuthMiddleware requires a participant JWT and stores the participant on the context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, appErr := bearerToken(c)
		if appErr != nil {
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			appErr := errors.NewUnauthorizedError(err.Error())
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			return
		}

		c.Set(ParticipantKey, claims.Participant())
		c.Next()
	}
}

// ServiceTokenMiddleware accepts either the static service token or a valid participant JWT.
// An empty service token disables the static path.
func ServiceTokenMiddleware(serviceToken string, authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, appErr := bearerToken(c)
		if appErr != nil {
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			return
		}

		if serviceToken != "" && token == serviceToken {
			c.Set(ServiceKey, true)
			c.Next()
			return
		}

		if authService != nil {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(ParticipantKey, claims.Participant())
				c.Next()
				return
			}
		}

		appErr = errors.NewUnauthorizedError("invalid token")
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
	}
}

// RequireSessionControl lets through the service token and presenters or moderators.
func RequireSessionControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ServiceKey) {
			c.Next()
			return
		}

		participant, ok := ParticipantFrom(c)
		if !ok {
			appErr := errors.NewUnauthorizedError("authentication required")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			return
		}
		if !participant.Role.CanControlSession() {
			appErr := errors.NewForbiddenError("role cannot control the session").
				WithContext("role", participant.Role)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
			return
		}
		c.Next()
	}
}

// ParticipantFrom returns the participant set by AuthMiddleware or ServiceTokenMiddleware.
func ParticipantFrom(c *gin.Context) (domain.Participant, bool) {
	v, ok := c.Get(ParticipantKey)
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := v.(domain.Participant)
	return p, ok
}
