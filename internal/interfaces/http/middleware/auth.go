package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/interfaces/http/response"
	"metamarket.backend/pkg/jwt"
	"metamarket.backend/pkg/logger"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens
	BearerPrefix = "Bearer "
	// OperatorKey is the context key for the token subject
	OperatorKey = "operator"
	// RoleKey is the context key for the token role
	RoleKey = "role"
)

// AuthMiddleware validates the bearer token and stores its claims on the context
func AuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			logger.Warn(c.Request.Context(), "Authorization header is missing", zap.String("path", c.Request.URL.Path))
			abort(c, domainerrors.Unauthorized("Authorization header is required"))
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abort(c, domainerrors.Unauthorized("Invalid authorization format. Use: Bearer <token>"))
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			logger.Warn(c.Request.Context(), "Rejected bearer token",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			if errors.Is(err, jwt.ErrExpiredToken) {
				abort(c, domainerrors.Unauthorized("Token has expired"))
				return
			}
			abort(c, domainerrors.Unauthorized("Invalid token"))
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// GetOperator gets the token subject from context
func GetOperator(c *gin.Context) (string, bool) {
	operator, exists := c.Get(OperatorKey)
	if !exists {
		return "", false
	}
	value, ok := operator.(string)
	return value, ok
}

// GetRole gets the token role from context
func GetRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(RoleKey)
	if !exists {
		return "", false
	}
	value, ok := role.(string)
	return value, ok
}

// RequireRole creates a middleware that requires one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetRole(c)
		if !exists {
			abort(c, domainerrors.Unauthorized("Role not found"))
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		abort(c, domainerrors.Forbidden("Insufficient permissions"))
	}
}

// RequireOperator guards endpoints that spend from the service wallet
func RequireOperator() gin.HandlerFunc {
	return RequireRole(jwt.RoleOperator)
}

func abort(c *gin.Context, err *domainerrors.AppError) {
	response.Error(c, err)
	c.Abort()
}
