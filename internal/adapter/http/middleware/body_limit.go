package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body limits per route class. Webhook payloads carry full gateway event
// objects and get more room than API requests.
const (
	MaxAPIBodyBytes     int64 = 64 << 10
	MaxWebhookBodyBytes int64 = 512 << 10
)

// MaxBodySize caps the request body. Reads past the limit fail, which binding
// and raw-body readers surface as an error.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
