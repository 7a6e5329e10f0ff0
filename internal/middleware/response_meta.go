package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/pkg/middleware/requestid"
	"github.com/noah-isme/ireporter/pkg/response"
)

// WithResponseMeta echoes the request id in the envelope meta. It must run
// after the request id middleware.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := requestid.Value(c); id != "" {
			response.SetMeta(c, "request_id", id)
		}
		c.Next()
	}
}
