package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
)

const identityKey = "identity"

// RequireIdentity enforces bearer JWT tokens signed with HS256 and stores the
// caller's attendance.Identity in the context.
func RequireIdentity(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// IdentityFrom returns the identity set by RequireIdentity, or the zero value.
func IdentityFrom(c *gin.Context) attendance.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(attendance.Identity)
	return id
}
