package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/config"
	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/security"
	log "github.com/sirupsen/logrus"
)

// OperatorAuthMiddleware validates operator JWTs and loads the acting user into context.
// The stored role wins over the role in the token.
func OperatorAuthMiddleware(dir *directory.Directory, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, jwtCfg.Issuer, token)
		if errJWT != nil {
			msg := "invalid token"
			if errors.Is(errJWT, security.ErrExpiredToken) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		user, errFind := dir.GetByID(c.Request.Context(), claims.UserID)
		if errFind != nil {
			if errors.Is(errFind, apperr.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			log.WithError(errFind).Error("operator auth middleware: load user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication service error"})
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("userRole", user.Role)
		c.Next()
	}
}

// RequireRoles lets the request through only when the acting user holds one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		value, _ := c.Get("userRole")
		role, ok := value.(models.UserRole)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, ok = allowed[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}
