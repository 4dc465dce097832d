// requestid.go tags every request with a correlation identifier.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header carrying the request identifier
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is stored
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a unique identifier.
//
// An inbound X-Request-ID header (set by a load balancer or gateway) is reused
// unchanged; otherwise a fresh UUID v4 is generated. The ID is stored in the
// gin.Context under RequestIDKey for the logger middleware and echoed back in
// the response header so callers can quote it when reporting problems.
//
// Register this right after gin.Recovery() so every downstream log line
// carries the identifier.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
