package service

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/internal/repository"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
	"github.com/noah-isme/ireporter/pkg/storage"
)

const sniffBytes = 3072

type mediaRecordStore interface {
	Create(ctx context.Context, rec *repository.MediaRecord) error
	GetByID(ctx context.Context, id string) (*repository.MediaRecord, error)
}

type mediaFileStore interface {
	SaveStream(filename string, r io.Reader, limit int64) (string, int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// MediaConfig tunes upload validation and link generation.
type MediaConfig struct {
	APIPrefix    string
	MaxFileSize  int64
	AllowedMIMEs []string
}

// MediaService validates and stores report attachments and serves them back
// through signed links.
type MediaService struct {
	records mediaRecordStore
	files   mediaFileStore
	signer  *storage.MediaLinkSigner
	logger  *zap.Logger
	cfg     MediaConfig
	mimeSet map[string]struct{}
}

// NewMediaService constructs a MediaService.
func NewMediaService(records mediaRecordStore, files mediaFileStore, signer *storage.MediaLinkSigner, cfg MediaConfig, logger *zap.Logger) *MediaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "video/mp4", "video/quicktime", "video/webm"}
	}
	set := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		set[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return &MediaService{records: records, files: files, signer: signer, logger: logger, cfg: cfg, mimeSet: set}
}

// MaxFileSize returns the per-file upload limit in bytes.
func (s *MediaService) MaxFileSize() int64 {
	return s.cfg.MaxFileSize
}

// Store sniffs, size-checks and persists an upload for the report.
func (s *MediaService) Store(ctx context.Context, reportID, filename, declaredMIME string, r io.Reader) (*repository.MediaRecord, error) {
	if r == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	buffered := bufio.NewReaderSize(r, sniffBytes)
	header, err := buffered.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect upload")
	}
	if len(header) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty file")
	}

	detected := mimetype.Detect(header)
	mimeType := baseMIME(detected.String())
	if _, allowed := s.mimeSet[mimeType]; !allowed {
		s.logger.Debug("rejected upload", zap.String("filename", filename), zap.String("declared", declaredMIME), zap.String("detected", mimeType))
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", mimeType))
	}
	mediaType, ok := models.MediaTypeFromMIME(mimeType)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only images and videos can be attached")
	}

	name := fmt.Sprintf("%s/%s%s", reportID, uuid.NewString(), detected.Extension())
	_, size, err := s.files.SaveStream(name, buffered, s.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxFileSize))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}

	rec := &repository.MediaRecord{
		ReportID:  reportID,
		MediaType: string(mediaType),
		FilePath:  name,
		MimeType:  mimeType,
		SizeBytes: size,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		if delErr := s.files.Delete(name); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", name), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record upload")
	}
	return rec, nil
}

// URL returns the signed download path for a stored attachment.
func (s *MediaService) URL(rec repository.MediaRecord) string {
	if s.signer == nil {
		return ""
	}
	token, _, err := s.signer.Sign(rec.ID, rec.FilePath)
	if err != nil {
		s.logger.Warn("failed to sign media url", zap.String("media_id", rec.ID), zap.Error(err))
		return ""
	}
	return strings.TrimRight(s.cfg.APIPrefix, "/") + "/media/" + token
}

// Open resolves a signed token to the stored file. The caller closes it.
func (s *MediaService) Open(ctx context.Context, token string) (*os.File, *repository.MediaRecord, error) {
	if s.signer == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "media not found")
	}
	link, err := s.signer.Verify(token)
	if err != nil {
		msg := "invalid media link"
		if errors.Is(err, storage.ErrLinkExpired) {
			msg = "media link expired"
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, msg)
	}
	rec, err := s.records.GetByID(ctx, link.MediaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "media not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load media")
	}
	if rec.FilePath != link.Path {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid media link")
	}
	file, err := s.files.Open(rec.FilePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "media file missing")
	}
	return file, rec, nil
}

// Remove deletes stored files, logging failures.
func (s *MediaService) Remove(paths []string) {
	for _, p := range paths {
		if err := s.files.Delete(p); err != nil {
			s.logger.Warn("failed to delete media file", zap.String("path", p), zap.Error(err))
		}
	}
}

func baseMIME(raw string) string {
	if idx := strings.Index(raw, ";"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
