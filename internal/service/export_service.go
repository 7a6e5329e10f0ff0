package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
	"github.com/noah-isme/ireporter/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var exportHeaders = []string{"ID", "Kind", "Title", "Status", "Location", "Latitude", "Longitude", "Author", "Media", "Created At", "Updated At"}

type reportSource interface {
	ExportRows(ctx context.Context, limit int) ([]models.Report, error)
}

type authorLookup interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders the admin report overview as CSV or PDF.
type ExportService struct {
	reports reportSource
	authors authorLookup
	csv     csvRenderer
	pdf     pdfRenderer
	maxRows int
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(reports reportSource, authors authorLookup, maxRows int, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(true)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports: reports,
		authors: authors,
		csv:     csv,
		pdf:     pdf,
		maxRows: maxRows,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Export renders every report in the requested format.
func (s *ExportService) Export(ctx context.Context, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	reports, err := s.reports.ExportRows(ctx, s.maxRows)
	if err != nil {
		return nil, err
	}
	dataset := s.buildDataset(ctx, reports)
	stamp := s.now().Format("20060102_150405")

	file := &ExportFile{Rows: len(reports)}
	switch format {
	case ExportFormatCSV:
		file.Data, err = s.csv.Render(dataset)
		file.ContentType = "text/csv; charset=utf-8"
	case ExportFormatPDF:
		file.Data, err = s.pdf.Render(dataset, fmt.Sprintf("iReporter reports %s", s.now().Format("2006-01-02")))
		file.ContentType = "application/pdf"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	file.Filename = fmt.Sprintf("reports_%s.%s", stamp, format)
	s.logger.Info("reports exported", zap.String("format", format), zap.Int("rows", file.Rows))
	return file, nil
}

func (s *ExportService) buildDataset(ctx context.Context, reports []models.Report) export.Dataset {
	authors := map[string]models.User{}
	if s.authors != nil && len(reports) > 0 {
		seen := make(map[string]struct{}, len(reports))
		ids := make([]string, 0, len(reports))
		for _, r := range reports {
			if _, ok := seen[r.AuthorID]; ok {
				continue
			}
			seen[r.AuthorID] = struct{}{}
			ids = append(ids, r.AuthorID)
		}
		found, err := s.authors.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("export author lookup failed", zap.Error(err))
		} else {
			authors = found
		}
	}

	rows := make([]map[string]string, 0, len(reports))
	for _, r := range reports {
		author := r.AuthorID
		if u, ok := authors[r.AuthorID]; ok {
			author = fmt.Sprintf("%s <%s>", u.FullName(), u.Email)
		}
		rows = append(rows, map[string]string{
			"ID":         r.ID,
			"Kind":       r.Kind.Label(),
			"Title":      r.Title,
			"Status":     r.Status.Label(),
			"Location":   r.Location.Name,
			"Latitude":   fmt.Sprintf("%.6f", r.Location.Latitude),
			"Longitude":  fmt.Sprintf("%.6f", r.Location.Longitude),
			"Author":     author,
			"Media":      fmt.Sprintf("%d", len(r.Media)),
			"Created At": r.CreatedAt.UTC().Format(time.RFC3339),
			"Updated At": r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}
