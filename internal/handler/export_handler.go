package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/internal/service"
	"github.com/noah-isme/ireporter/pkg/response"
)

type reportExporter interface {
	Export(ctx context.Context, format string) (*service.ExportFile, error)
}

// ExportHandler serves the admin report downloads.
type ExportHandler struct {
	exports reportExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(exports reportExporter) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export godoc
// @Summary Export every report
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/reports/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	file, err := h.exports.Export(c.Request.Context(), c.DefaultQuery("format", service.ExportFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
