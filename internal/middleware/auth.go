// Package middleware provides the Gin HTTP middleware stack: request IDs,
// metrics, security headers, rate limiting, and bearer-token authentication.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → Handler
//
// Security headers run before auth so they appear on error responses too, and
// rate limiting runs before auth so brute-force traffic is shed without any
// verification work.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devflowfix/devflowfix/internal/auth"
)

// PrincipalKey is the gin.Context key holding the authenticated *auth.Principal
const PrincipalKey = "principal"

// AuthMiddleware validates the bearer token on every request and stores the
// principal in the request context. Requests without a valid token are
// rejected; there is no anonymous surface behind this middleware.
func AuthMiddleware(authn *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization header",
			})
			return
		}

		principal, err := authn.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials",
			})
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated principal set by AuthMiddleware.
// The second return is false on routes that bypass authentication.
func PrincipalFrom(c *gin.Context) (*auth.Principal, bool) {
	v, exists := c.Get(PrincipalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}

// bearerToken extracts the token from the Authorization header
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
