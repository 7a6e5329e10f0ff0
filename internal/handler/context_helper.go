package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/middleware"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
	"github.com/noah-isme/ireporter/pkg/response"
)

const kindContextKey = "reportKind"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// actorFromContext resolves the caller, writing a 401 when there is none.
func actorFromContext(c *gin.Context) (lifecycle.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthenticated)
		return lifecycle.Actor{}, false
	}
	return lifecycle.Actor{UserID: claims.UserID, Role: claims.Role}, true
}

// WithKind pins the report kind served by the routes of a group.
func WithKind(kind models.ReportKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(kindContextKey, kind)
		c.Next()
	}
}

func kindFromContext(c *gin.Context) (models.ReportKind, bool) {
	value, ok := c.Get(kindContextKey)
	if !ok {
		return "", false
	}
	kind, ok := value.(models.ReportKind)
	return kind, ok
}
