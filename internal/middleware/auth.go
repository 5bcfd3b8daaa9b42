package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"eventrides/internal/auth"
	"eventrides/internal/session"
)

// IdentityKey is the gin context key the verified identity is stored under.
const IdentityKey = "identity"

// tokenQueryParam carries the token for WebSocket upgrades, which cannot set
// headers from a browser.
const tokenQueryParam = "access_token"

// Auth verifies the bearer token and stores the identity for downstream
// handlers.
func Auth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := verifier.Verify(BearerToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set(IdentityKey, id)
		c.Next()
	}
}

// BearerToken returns the token from the Authorization header, falling back to
// the access_token query parameter.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return c.Query(tokenQueryParam)
}

// GetIdentity retrieves the identity stored by Auth.
func GetIdentity(c *gin.Context) (session.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return session.Identity{}, false
	}
	id, ok := v.(session.Identity)
	return id, ok
}
