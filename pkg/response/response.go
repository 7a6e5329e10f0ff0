// Package response writes the JSON envelope every API endpoint answers with.
package response

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

const metaKey = "response.meta"

// Envelope is the body shape of every JSON response. Data and Error are
// mutually exclusive.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// SetMeta adds an entry to the meta member of the response written for c.
func SetMeta(c *gin.Context, key string, value interface{}) {
	meta, _ := c.Get(metaKey)
	m, ok := meta.(map[string]interface{})
	if !ok {
		m = map[string]interface{}{}
		c.Set(metaKey, m)
	}
	m[key] = value
}

func metaOf(c *gin.Context) map[string]interface{} {
	meta, _ := c.Get(metaKey)
	if m, ok := meta.(map[string]interface{}); ok && len(m) > 0 {
		return m
	}
	return nil
}

func write(c *gin.Context, status int, env Envelope) {
	c.Header("Cache-Control", "no-store")
	env.Meta = metaOf(c)
	c.JSON(status, env)
}

// JSON writes data with optional pagination.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination) {
	write(c, status, Envelope{Data: data, Pagination: pagination})
}

// Created writes data with 201.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error writes err with the status its code maps to. Errors that carry no
// code are reported as internal errors.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	write(c, appErr.Status, Envelope{Error: appErr})
}

// NoContent writes an empty 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}

// Attachment writes data as a file download named filename.
func Attachment(c *gin.Context, filename, contentType string, data []byte) {
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, contentType, data)
}
