package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/internal/dto"
	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
	"github.com/noah-isme/ireporter/pkg/response"
)

type reportService interface {
	List(ctx context.Context, actor lifecycle.Actor, query dto.ListReportsQuery) ([]models.Report, *models.Pagination, error)
	Get(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) (*models.Report, error)
	Create(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, req dto.CreateReportRequest) (*models.Report, error)
	Update(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string, req dto.UpdateReportRequest) (*models.Report, error)
	ChangeStatus(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, rawStatus string) (*dto.StatusChangeResponse, error)
	Delete(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) error
	AttachMedia(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, filename, declaredMIME string, r io.Reader) (*models.Report, error)
}

// ReportHandler exposes red-flag and intervention endpoints. Kind-scoped
// routes carry their kind through WithKind.
type ReportHandler struct {
	reports       reportService
	maxUploadSize int64
}

// NewReportHandler constructs the handler. maxUploadSize bounds the multipart
// request body; zero disables the bound.
func NewReportHandler(reports reportService, maxUploadSize int64) *ReportHandler {
	return &ReportHandler{reports: reports, maxUploadSize: maxUploadSize}
}

// List godoc
// @Summary List reports
// @Description Citizens see their own reports. Administrators see every report unless mine=true.
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param kind query string false "red_flag or intervention (combined route only)"
// @Param status query string false "Status filter"
// @Param mine query bool false "Only the caller's reports"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
// @Router /redflags [get]
// @Router /interventions [get]
func (h *ReportHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListReportsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if kind, scoped := kindFromContext(c); scoped {
		query.Kind = string(kind)
	}

	reports, pagination, err := h.reports.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	scope := "all"
	if actor.Role != models.RoleAdmin || query.Mine {
		scope = "mine"
	}
	response.SetMeta(c, "scope", scope)
	response.JSON(c, http.StatusOK, reports, pagination)
}

// Create godoc
// @Summary File a report
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateReportRequest true "Report payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /redflags [post]
// @Router /interventions [post]
func (h *ReportHandler) Create(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}
	report, err := h.reports.Create(c.Request.Context(), actor, kind, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// Get godoc
// @Summary Get a report
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /redflags/{id} [get]
// @Router /interventions/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	report, err := h.reports.Get(c.Request.Context(), actor, kind, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Update godoc
// @Summary Edit a draft report
// @Description A body holding only a status field is treated as a status change.
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Param payload body dto.UpdateReportRequest true "Patch"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /redflags/{id} [patch]
// @Router /interventions/{id} [patch]
func (h *ReportHandler) Update(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	var req dto.UpdateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}

	if req.Status != nil {
		if req.HasContent() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status cannot be changed together with report content"))
			return
		}
		h.changeStatus(c, actor, kind, *req.Status)
		return
	}
	if !req.HasContent() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "nothing to update"))
		return
	}

	report, err := h.reports.Update(c.Request.Context(), actor, kind, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ChangeStatus godoc
// @Summary Move a report along its lifecycle
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Param payload body dto.StatusChangeRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /redflags/{id}/status [patch]
// @Router /interventions/{id}/status [patch]
func (h *ReportHandler) ChangeStatus(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	var req dto.StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status is required"))
		return
	}
	h.changeStatus(c, actor, kind, req.Status)
}

func (h *ReportHandler) changeStatus(c *gin.Context, actor lifecycle.Actor, kind models.ReportKind, status string) {
	res, err := h.reports.ChangeStatus(c.Request.Context(), actor, kind, c.Param("id"), status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Delete a draft report
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /redflags/{id} [delete]
// @Router /interventions/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.reports.Delete(c.Request.Context(), actor, kind, id); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DeleteReportResponse{
		ID:      id,
		Message: fmt.Sprintf("%s deleted successfully", kind.Label()),
	}, nil)
}

// AttachMedia godoc
// @Summary Attach an image or video to a draft report
// @Tags Reports
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Param file formData file true "Image or video"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /redflags/{id}/media [post]
// @Router /interventions/{id}/media [post]
func (h *ReportHandler) AttachMedia(c *gin.Context) {
	actor, kind, ok := h.scope(c)
	if !ok {
		return
	}
	if h.maxUploadSize > 0 {
		// multipart framing overhead on top of the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+1<<20)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds the %d byte limit", h.maxUploadSize)))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	report, err := h.reports.AttachMedia(c.Request.Context(), actor, kind, c.Param("id"), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

func (h *ReportHandler) scope(c *gin.Context) (lifecycle.Actor, models.ReportKind, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		return actor, "", false
	}
	kind, ok := kindFromContext(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown report collection"))
		return actor, "", false
	}
	return actor, kind, true
}
