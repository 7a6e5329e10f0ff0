package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
)

// AuditWriter appends to the audit trail.
type AuditWriter interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

type requestDetails struct {
	Route     string `json:"route"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// Audit appends an entry once the handler has succeeded. Failed requests
// leave no trace; a failed write is logged and does not affect the response.
func Audit(writer AuditWriter, logger *zap.Logger, action models.AuditAction, subject string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if writer == nil || status >= 400 {
			return
		}
		details, _ := json.Marshal(requestDetails{
			Route:     c.FullPath(),
			Method:    c.Request.Method,
			Status:    status,
			LatencyMs: time.Since(start).Milliseconds(),
		})
		entry := &models.AuditEntry{
			Action:    action,
			Subject:   subject,
			SubjectID: c.Param("id"),
			Details:   details,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if claims := Claims(c); claims != nil {
			actor := claims.UserID
			entry.ActorID = &actor
		}
		// The request context may already be cancelled once the body is flushed.
		if err := writer.Append(context.WithoutCancel(c.Request.Context()), entry); err != nil {
			logger.Warn("audit write failed", zap.String("action", string(action)), zap.String("subject_id", entry.SubjectID), zap.Error(err))
		}
	}
}
