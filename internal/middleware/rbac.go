package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
	"github.com/noah-isme/sma-status-api/pkg/response"
)

// RBAC enforces role-based access control for routes.
func RBAC(allowed ...models.UserRole) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedRoles[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// StatusWriters is the set of roles allowed to change status assignments.
func StatusWriters() gin.HandlerFunc {
	return RBAC(models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff)
}
