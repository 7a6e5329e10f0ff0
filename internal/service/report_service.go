package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/dto"
	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/internal/repository"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type reportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error)
	UpdateContent(ctx context.Context, report *models.Report) error
	UpdateStatus(ctx context.Context, id string, from, to models.ReportStatus, updatedAt time.Time) error
	Touch(ctx context.Context, id string, updatedAt time.Time) error
	Delete(ctx context.Context, id, authorID string) error
}

type mediaStore interface {
	ListByReports(ctx context.Context, reportIDs []string) (map[string][]repository.MediaRecord, error)
	ListPathsByReport(ctx context.Context, reportID string) ([]string, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// MediaAttacher stores uploads and renders download links.
type MediaAttacher interface {
	Store(ctx context.Context, reportID, filename, declaredMIME string, r io.Reader) (*repository.MediaRecord, error)
	URL(rec repository.MediaRecord) string
	Remove(paths []string)
}

// StatusNotifier tells the author that a report changed status and returns
// the message surfaced to the reviewer.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, author *models.User, report models.Report) string
}

// ReportConfig tunes listing behaviour.
type ReportConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// ReportService implements red-flag and intervention use cases.
type ReportService struct {
	reports   reportStore
	media     mediaStore
	users     userLookup
	attacher  MediaAttacher
	notifier  StatusNotifier
	cache     *ReportListCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ReportConfig
	now       func() time.Time
}

// NewReportService constructs the service. attacher, notifier, cache and metrics may be nil.
func NewReportService(reports reportStore, media mediaStore, users userLookup, attacher MediaAttacher, notifier StatusNotifier, cache *ReportListCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ReportConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 200
	}
	return &ReportService{
		reports:   reports,
		media:     media,
		users:     users,
		attacher:  attacher,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns reports visible to the actor. Citizens only ever see their own
// reports; administrators see everything unless they ask for their own.
func (s *ReportService) List(ctx context.Context, actor lifecycle.Actor, query dto.ListReportsQuery) ([]models.Report, *models.Pagination, error) {
	filter := models.ReportFilter{Page: query.Page, PageSize: query.PageSize}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = s.cfg.DefaultPageSize
	}
	if filter.PageSize > s.cfg.MaxPageSize {
		filter.PageSize = s.cfg.MaxPageSize
	}
	if raw := strings.TrimSpace(query.Kind); raw != "" {
		kind, ok := models.ParseKind(raw)
		if !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report kind %q", raw))
		}
		filter.Kind = &kind
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, ok := models.ParseStatus(raw)
		if !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report status %q", raw))
		}
		filter.Status = &status
	}
	if actor.Role != models.RoleAdmin || query.Mine {
		filter.AuthorID = actor.UserID
	}

	if reports, pagination, hit := s.cache.Lookup(ctx, filter); hit {
		return reports, pagination, nil
	}

	reports, total, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	if err := s.hydrateMedia(ctx, reports); err != nil {
		return nil, nil, err
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}

	s.cache.Store(ctx, filter, reports, *pagination)
	return reports, pagination, nil
}

// Get returns a single report of the given kind visible to the actor.
func (s *ReportService) Get(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) (*models.Report, error) {
	report, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && report.AuthorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrPermission, "you can only view your own reports")
	}
	if err := s.hydrateOne(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Create files a new draft report authored by the actor.
func (s *ReportService) Create(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, req dto.CreateReportRequest) (*models.Report, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Location = strings.TrimSpace(req.Location)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "latitude and longitude must be provided together")
	}

	report := &models.Report{
		Kind:        kind,
		Title:       req.Title,
		Description: req.Description,
		Location:    models.Location{Name: req.Location},
		Status:      models.StatusDraft,
		AuthorID:    actor.UserID,
		CreatedAt:   s.now(),
		Media:       []models.Media{},
	}
	if req.Latitude != nil {
		report.Location.Latitude = *req.Latitude
		report.Location.Longitude = *req.Longitude
	}
	if report.Location.Name == "" {
		report.Location.Name = models.UnknownLocation
	}

	if err := s.reports.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report")
	}
	s.metrics.RecordReportCreated(string(kind))
	s.invalidateLists(ctx)
	return report, nil
}

// Update applies a content patch to a draft owned by the actor.
func (s *ReportService) Update(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string, req dto.UpdateReportRequest) (*models.Report, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	report, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckContentChange(report, actor); err != nil {
		return nil, err
	}

	if req.Title != nil {
		report.Title = strings.TrimSpace(*req.Title)
		if report.Title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
	}
	if req.Description != nil {
		report.Description = strings.TrimSpace(*req.Description)
		if report.Description == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "description cannot be empty")
		}
	}
	if req.Location != nil {
		report.Location.Name = strings.TrimSpace(*req.Location)
	}
	if req.Latitude != nil {
		report.Location.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		report.Location.Longitude = *req.Longitude
	}

	if err := s.reports.UpdateContent(ctx, report); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPermission, "report can no longer be changed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update report")
	}
	s.invalidateLists(ctx)
	if err := s.hydrateOne(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ChangeStatus moves a report along the lifecycle and notifies its author.
// A failed notification never undoes the committed change.
func (s *ReportService) ChangeStatus(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, rawStatus string) (*dto.StatusChangeResponse, error) {
	to, ok := models.ParseStatus(rawStatus)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report status %q", rawStatus))
	}
	if actor.Role != models.RoleAdmin {
		return nil, lifecycle.CheckTransition(models.StatusDraft, to, actor.Role)
	}
	report, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	from := report.Status
	if err := lifecycle.CheckTransition(from, to, actor.Role); err != nil {
		return nil, err
	}

	updatedAt := s.now()
	if err := s.reports.UpdateStatus(ctx, report.ID, from, to, updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "report status was changed by someone else")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update report status")
	}
	report.Status = to
	report.UpdatedAt = updatedAt
	s.metrics.RecordStatusChange(string(from), string(to))
	s.invalidateLists(ctx)

	if err := s.hydrateOne(ctx, report); err != nil {
		s.logger.Warn("failed to load media after status change", zap.String("report_id", report.ID), zap.Error(err))
	}

	resp := &dto.StatusChangeResponse{Report: *report}
	if s.notifier != nil {
		author, err := s.users.FindByID(ctx, report.AuthorID)
		if err != nil {
			s.logger.Warn("status change author lookup failed", zap.String("report_id", report.ID), zap.Error(err))
		} else {
			resp.EmailMessage = s.notifier.NotifyStatusChange(ctx, author, *report)
		}
	}
	return resp, nil
}

// Delete removes a draft owned by the actor along with its stored media.
func (s *ReportService) Delete(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) error {
	report, err := s.load(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckContentChange(report, actor); err != nil {
		return err
	}

	var paths []string
	if s.media != nil {
		paths, err = s.media.ListPathsByReport(ctx, report.ID)
		if err != nil {
			s.logger.Warn("failed to list media before delete", zap.String("report_id", report.ID), zap.Error(err))
		}
	}

	if err := s.reports.Delete(ctx, report.ID, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPermission, "report can no longer be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report")
	}
	if s.attacher != nil && len(paths) > 0 {
		s.attacher.Remove(paths)
	}
	s.invalidateLists(ctx)
	return nil
}

// AttachMedia stores an upload against a draft owned by the actor and
// returns the report with its full media list.
func (s *ReportService) AttachMedia(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, filename, declaredMIME string, r io.Reader) (*models.Report, error) {
	if s.attacher == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "media storage is not configured")
	}
	report, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckContentChange(report, actor); err != nil {
		return nil, err
	}

	if _, err := s.attacher.Store(ctx, report.ID, filename, declaredMIME, r); err != nil {
		return nil, err
	}
	report.UpdatedAt = s.now()
	if err := s.reports.Touch(ctx, report.ID, report.UpdatedAt); err != nil {
		s.logger.Warn("failed to touch report after upload", zap.String("report_id", report.ID), zap.Error(err))
	}
	s.invalidateLists(ctx)
	if err := s.hydrateOne(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ExportRows returns every report for the admin export, capped at limit.
func (s *ReportService) ExportRows(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 10000
	}
	reports, _, err := s.reports.List(ctx, models.ReportFilter{Page: 1, PageSize: limit})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reports for export")
	}
	if err := s.hydrateMedia(ctx, reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *ReportService) load(ctx context.Context, kind models.ReportKind, id string) (*models.Report, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s not found", kind.Label()))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if report.Kind != kind {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s not found", kind.Label()))
	}
	return report, nil
}

func (s *ReportService) hydrateOne(ctx context.Context, report *models.Report) error {
	list := []models.Report{*report}
	if err := s.hydrateMedia(ctx, list); err != nil {
		return err
	}
	report.Media = list[0].Media
	return nil
}

func (s *ReportService) hydrateMedia(ctx context.Context, reports []models.Report) error {
	for i := range reports {
		if reports[i].Media == nil {
			reports[i].Media = []models.Media{}
		}
	}
	if s.media == nil || len(reports) == 0 {
		return nil
	}
	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	grouped, err := s.media.ListByReports(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report media")
	}
	for i := range reports {
		records := grouped[reports[i].ID]
		media := make([]models.Media, 0, len(records))
		for _, rec := range records {
			url := ""
			if s.attacher != nil {
				url = s.attacher.URL(rec)
			}
			media = append(media, models.Media{
				ID:        rec.ID,
				MediaType: models.MediaType(rec.MediaType),
				URL:       url,
				CreatedAt: rec.CreatedAt,
			})
		}
		reports[i].Media = media
	}
	return nil
}

func (s *ReportService) invalidateLists(ctx context.Context) {
	s.cache.Purge(ctx)
}
