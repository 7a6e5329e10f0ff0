package handler

import (
	"context"
	"net/http"
	"os"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ireporter/internal/repository"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
	"github.com/noah-isme/ireporter/pkg/response"
)

type mediaOpener interface {
	Open(ctx context.Context, token string) (*os.File, *repository.MediaRecord, error)
}

// MediaHandler streams stored attachments behind signed links.
type MediaHandler struct {
	media mediaOpener
}

// NewMediaHandler constructs the handler.
func NewMediaHandler(media mediaOpener) *MediaHandler {
	return &MediaHandler{media: media}
}

// Download godoc
// @Summary Download an attachment
// @Tags Media
// @Produce octet-stream
// @Param token path string true "Signed media token"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /media/{token} [get]
func (h *MediaHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
		return
	}
	file, rec, err := h.media.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read media"))
		return
	}
	c.Header("Content-Type", rec.MimeType)
	c.Header("Cache-Control", "private, max-age=3600")
	http.ServeContent(c.Writer, c.Request, path.Base(rec.FilePath), info.ModTime(), file)
}
