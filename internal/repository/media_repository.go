package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MediaRecord is a stored attachment row.
type MediaRecord struct {
	ID        string    `db:"id"`
	ReportID  string    `db:"report_id"`
	MediaType string    `db:"media_type"`
	FilePath  string    `db:"file_path"`
	MimeType  string    `db:"mime_type"`
	SizeBytes int64     `db:"size_bytes"`
	CreatedAt time.Time `db:"created_at"`
}

const mediaColumns = `id, report_id, media_type, file_path, mime_type, size_bytes, created_at`

// MediaRepository persists report attachments.
type MediaRepository struct {
	db *sqlx.DB
}

// NewMediaRepository constructs the repository.
func NewMediaRepository(db *sqlx.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create inserts an attachment row.
func (r *MediaRepository) Create(ctx context.Context, rec *MediaRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO report_media (` + mediaColumns + `) VALUES (:id, :report_id, :media_type, :file_path, :mime_type, :size_bytes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create media: %w", err)
	}
	return nil
}

// GetByID returns one attachment.
func (r *MediaRepository) GetByID(ctx context.Context, id string) (*MediaRecord, error) {
	var rec MediaRecord
	if err := r.db.GetContext(ctx, &rec, `SELECT `+mediaColumns+` FROM report_media WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get media: %w", err)
	}
	return &rec, nil
}

// ListByReports returns attachments grouped by report id in creation order.
func (r *MediaRepository) ListByReports(ctx context.Context, reportIDs []string) (map[string][]MediaRecord, error) {
	out := make(map[string][]MediaRecord, len(reportIDs))
	if len(reportIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+mediaColumns+` FROM report_media WHERE report_id IN (?) ORDER BY created_at, id`, reportIDs)
	if err != nil {
		return nil, fmt.Errorf("build media lookup: %w", err)
	}
	var records []MediaRecord
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	for _, rec := range records {
		out[rec.ReportID] = append(out[rec.ReportID], rec)
	}
	return out, nil
}

// ListPathsByReport returns the stored file paths of a report's attachments.
func (r *MediaRepository) ListPathsByReport(ctx context.Context, reportID string) ([]string, error) {
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, `SELECT file_path FROM report_media WHERE report_id = $1`, reportID); err != nil {
		return nil, fmt.Errorf("list media paths: %w", err)
	}
	return paths, nil
}
