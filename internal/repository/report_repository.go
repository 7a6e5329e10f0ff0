package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ireporter/internal/models"
)

const reportColumns = `id, kind, title, description, location_name, latitude, longitude, status, author_id, created_at, updated_at`

type reportRow struct {
	ID           string    `db:"id"`
	Kind         string    `db:"kind"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	LocationName string    `db:"location_name"`
	Latitude     float64   `db:"latitude"`
	Longitude    float64   `db:"longitude"`
	Status       string    `db:"status"`
	AuthorID     string    `db:"author_id"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func newReportRow(r *models.Report) reportRow {
	return reportRow{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Title:        r.Title,
		Description:  r.Description,
		LocationName: r.Location.Name,
		Latitude:     r.Location.Latitude,
		Longitude:    r.Location.Longitude,
		Status:       string(r.Status),
		AuthorID:     r.AuthorID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (row reportRow) model() models.Report {
	return models.Report{
		ID:          row.ID,
		Kind:        models.ReportKind(row.Kind),
		Title:       row.Title,
		Description: row.Description,
		Location: models.Location{
			Name:      row.LocationName,
			Latitude:  row.Latitude,
			Longitude: row.Longitude,
		},
		Status:    models.ReportStatus(row.Status),
		AuthorID:  row.AuthorID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Media:     []models.Media{},
	}
}

// ReportRepository persists red-flag and intervention records in one table.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a report, assigning id and timestamps when missing.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = report.CreatedAt
	if report.Status == "" {
		report.Status = models.StatusDraft
	}
	const query = `INSERT INTO reports (` + reportColumns + `) VALUES (:id, :kind, :title, :description, :location_name, :latitude, :longitude, :status, :author_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, newReportRow(report)); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID returns a report without its media.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	var row reportRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	report := row.model()
	return &report, nil
}

// List returns reports matching the filter, newest first, with the total count.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error) {
	var conditions []string
	var args []interface{}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s FROM reports%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", reportColumns, where, pageSize, offset)
	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM reports"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	reports := make([]models.Report, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, row.model())
	}
	return reports, total, nil
}

// UpdateContent rewrites the editable fields. The write only applies while
// the report is still a draft owned by the author; otherwise sql.ErrNoRows.
func (r *ReportRepository) UpdateContent(ctx context.Context, report *models.Report) error {
	report.UpdatedAt = time.Now().UTC()
	const query = `UPDATE reports SET title = :title, description = :description, location_name = :location_name, latitude = :latitude, longitude = :longitude, updated_at = :updated_at WHERE id = :id AND author_id = :author_id AND status = 'DRAFT'`
	res, err := r.db.NamedExecContext(ctx, query, newReportRow(report))
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return expectOneRow(res)
}

// UpdateStatus moves a report from one status to another. The expected
// current status guards against two reviewers applying conflicting changes.
func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, from, to models.ReportStatus, updatedAt time.Time) error {
	const query = `UPDATE reports SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), updatedAt)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	return expectOneRow(res)
}

// Touch bumps updated_at, used after attaching media.
func (r *ReportRepository) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE reports SET updated_at = $2 WHERE id = $1`, id, updatedAt); err != nil {
		return fmt.Errorf("touch report: %w", err)
	}
	return nil
}

// Delete removes a draft owned by the author; otherwise sql.ErrNoRows.
func (r *ReportRepository) Delete(ctx context.Context, id, authorID string) error {
	const query = `DELETE FROM reports WHERE id = $1 AND author_id = $2 AND status = 'DRAFT'`
	res, err := r.db.ExecContext(ctx, query, id, authorID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
