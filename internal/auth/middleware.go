package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the caller's Claims.
const ClaimsKey = "claims"

// DeviceAuth enforces bearer access tokens.
func DeviceAuth(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := issuer.ParseAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole lets only devices holding one of roles through. It must run after DeviceAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := c.MustGet(ClaimsKey).(Claims)
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "device role not allowed"})
	}
}
