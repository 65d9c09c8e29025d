package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

const (
	permissionsKey = "permissions"
	operatorKey    = "operator"
)

// Middleware validates the bearer token and stores the caller's
// permissions in the gin context.
func Middleware(j *JWTHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := j.ValidateToken(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(permissionsKey, RolePermissions(claims.Role))
		c.Set(operatorKey, claims.Operator)
		c.Next()
	}
}

// AllowAll grants every permission. Used when authentication is disabled.
func AllowAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(permissionsKey, rolePermissions[RoleAdmin])
		c.Next()
	}
}

// RequirePermission rejects callers without the permission.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			abort(c, http.StatusForbidden, "no permissions found")
			return
		}

		permissions, _ := perms.([]Permission)
		if !slices.Contains(permissions, required) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				types.CodeForbidden, "insufficient permissions", gin.H{"required": string(required)}))
			return
		}

		c.Next()
	}
}

// Operator returns the authenticated operator name, empty when unknown.
func Operator(c *gin.Context) string {
	return c.GetString(operatorKey)
}

func abort(c *gin.Context, status int, message string) {
	code := types.CodeUnauthorized
	if status == http.StatusForbidden {
		code = types.CodeForbidden
	}
	c.AbortWithStatusJSON(status, types.NewErrorResponse(code, message, nil))
}
