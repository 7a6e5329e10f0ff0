package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ireporter/internal/dto"
	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/middleware"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type reportServiceMock struct {
	listResp    []models.Report
	lastQuery   dto.ListReportsQuery
	lastActor   lifecycle.Actor
	lastKind    models.ReportKind
	lastID      string
	lastUpdate  dto.UpdateReportRequest
	lastStatus  string
	uploaded    []byte
	uploadName  string
	err         error
	updateCalls int
	statusCalls int
}

func (m *reportServiceMock) List(ctx context.Context, actor lifecycle.Actor, query dto.ListReportsQuery) ([]models.Report, *models.Pagination, error) {
	m.lastActor, m.lastQuery = actor, query
	return m.listResp, &models.Pagination{Page: 1, PageSize: 50, TotalCount: len(m.listResp)}, m.err
}

func (m *reportServiceMock) Get(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) (*models.Report, error) {
	m.lastActor, m.lastKind, m.lastID = actor, kind, id
	if m.err != nil {
		return nil, m.err
	}
	return &models.Report{ID: id, Kind: kind, Status: models.StatusDraft}, nil
}

func (m *reportServiceMock) Create(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, req dto.CreateReportRequest) (*models.Report, error) {
	m.lastActor, m.lastKind = actor, kind
	if m.err != nil {
		return nil, m.err
	}
	return &models.Report{ID: "r1", Kind: kind, Title: req.Title, Status: models.StatusDraft, AuthorID: actor.UserID}, nil
}

func (m *reportServiceMock) Update(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string, req dto.UpdateReportRequest) (*models.Report, error) {
	m.updateCalls++
	m.lastKind, m.lastID, m.lastUpdate = kind, id, req
	if m.err != nil {
		return nil, m.err
	}
	return &models.Report{ID: id, Kind: kind, Title: *req.Title, Status: models.StatusDraft}, nil
}

func (m *reportServiceMock) ChangeStatus(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, rawStatus string) (*dto.StatusChangeResponse, error) {
	m.statusCalls++
	m.lastKind, m.lastID, m.lastStatus = kind, id, rawStatus
	if m.err != nil {
		return nil, m.err
	}
	return &dto.StatusChangeResponse{
		Report:       models.Report{ID: id, Kind: kind, Status: models.StatusResolved},
		EmailMessage: "Email sent successfully. Please check your email.",
	}, nil
}

func (m *reportServiceMock) Delete(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id string) error {
	m.lastKind, m.lastID = kind, id
	return m.err
}

func (m *reportServiceMock) AttachMedia(ctx context.Context, actor lifecycle.Actor, kind models.ReportKind, id, filename, declaredMIME string, r io.Reader) (*models.Report, error) {
	m.lastKind, m.lastID, m.uploadName = kind, id, filename
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.uploaded = data
	if m.err != nil {
		return nil, m.err
	}
	return &models.Report{ID: id, Kind: kind, Media: []models.Media{{ID: "m1", MediaType: models.MediaImage}}}, nil
}

func newReportContext(method, target string, body io.Reader, claims *models.JWTClaims, kind models.ReportKind, id string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	if kind != "" {
		c.Set(kindContextKey, kind)
	}
	if id != "" {
		c.Params = gin.Params{{Key: "id", Value: id}}
	}
	return c, w
}

var (
	citizenClaims = &models.JWTClaims{UserID: "u1", Role: models.RoleCitizen}
	adminClaims   = &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestReportHandlerListScopedByGroup(t *testing.T) {
	svc := &reportServiceMock{listResp: []models.Report{{ID: "r1", Kind: models.KindIntervention}}}
	h := NewReportHandler(svc, 0)

	c, w := newReportContext(http.MethodGet, "/interventions?kind=red_flag&status=draft&mine=true&page=2", nil, adminClaims, models.KindIntervention, "")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "intervention", svc.lastQuery.Kind)
	assert.Equal(t, "draft", svc.lastQuery.Status)
	assert.True(t, svc.lastQuery.Mine)
	assert.Equal(t, 2, svc.lastQuery.Page)
	assert.Equal(t, "a1", svc.lastActor.UserID)
	assert.Equal(t, "mine", decodeEnvelope(t, w).Meta["scope"])
}

func TestReportHandlerListRequiresSession(t *testing.T) {
	h := NewReportHandler(&reportServiceMock{}, 0)
	c, w := newReportContext(http.MethodGet, "/reports", nil, nil, "", "")
	h.List(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerCreate(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc, 0)

	c, w := newReportContext(http.MethodPost, "/redflags", bytes.NewBufferString(`{"title":"Bribe","description":"At the gate","latitude":0.3,"longitude":32.5}`), citizenClaims, models.KindRedFlag, "")
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	var report models.Report
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &report))
	assert.Equal(t, models.StatusDraft, report.Status)
	assert.Equal(t, models.KindRedFlag, svc.lastKind)

	c, w = newReportContext(http.MethodPost, "/redflags", bytes.NewBufferString(`{"title":`), citizenClaims, models.KindRedFlag, "")
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerUpdateRoutesStatusField(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc, 0)

	c, w := newReportContext(http.MethodPatch, "/redflags/42", bytes.NewBufferString(`{"status":"resolved"}`), adminClaims, models.KindRedFlag, "42")
	h.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.statusCalls)
	assert.Equal(t, 0, svc.updateCalls)
	assert.Equal(t, "resolved", svc.lastStatus)
	assert.Contains(t, w.Body.String(), "email_message")

	c, w = newReportContext(http.MethodPatch, "/redflags/42", bytes.NewBufferString(`{"status":"resolved","title":"x"}`), adminClaims, models.KindRedFlag, "42")
	h.Update(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newReportContext(http.MethodPatch, "/redflags/42", bytes.NewBufferString(`{}`), citizenClaims, models.KindRedFlag, "42")
	h.Update(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newReportContext(http.MethodPatch, "/redflags/42", bytes.NewBufferString(`{"title":"New"}`), citizenClaims, models.KindRedFlag, "42")
	h.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.updateCalls)
	assert.Equal(t, "New", *svc.lastUpdate.Title)
}

func TestReportHandlerMapsServiceErrors(t *testing.T) {
	svc := &reportServiceMock{err: appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move report from RESOLVED to DRAFT")}
	h := NewReportHandler(svc, 0)

	c, w := newReportContext(http.MethodPatch, "/redflags/42/status", bytes.NewBufferString(`{"status":"draft"}`), adminClaims, models.KindRedFlag, "42")
	h.ChangeStatus(c)
	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, env.Error.Code)

	svc.err = appErrors.Clone(appErrors.ErrPermission, "report is Resolved and can no longer be changed")
	c, w = newReportContext(http.MethodDelete, "/interventions/7", nil, citizenClaims, models.KindIntervention, "7")
	h.Delete(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportHandlerDelete(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc, 0)

	c, w := newReportContext(http.MethodDelete, "/interventions/7", nil, citizenClaims, models.KindIntervention, "7")
	h.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Intervention deleted successfully")
	assert.Equal(t, "7", svc.lastID)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestReportHandlerAttachMedia(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc, 1024)

	body, contentType := multipartBody(t, "file", "photo.png", []byte("png-bytes"))
	c, w := newReportContext(http.MethodPost, "/redflags/r1/media", body, citizenClaims, models.KindRedFlag, "r1")
	c.Request.Header.Set("Content-Type", contentType)
	h.AttachMedia(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "photo.png", svc.uploadName)
	assert.Equal(t, []byte("png-bytes"), svc.uploaded)

	body, contentType = multipartBody(t, "attachment", "photo.png", []byte("png-bytes"))
	c, w = newReportContext(http.MethodPost, "/redflags/r1/media", body, citizenClaims, models.KindRedFlag, "r1")
	c.Request.Header.Set("Content-Type", contentType)
	h.AttachMedia(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerRejectsOversizedUpload(t *testing.T) {
	h := NewReportHandler(&reportServiceMock{}, 16)

	body, contentType := multipartBody(t, "file", "clip.mp4", bytes.Repeat([]byte{1}, 2<<20))
	c, w := newReportContext(http.MethodPost, "/redflags/r1/media", body, citizenClaims, models.KindRedFlag, "r1")
	c.Request.Header.Set("Content-Type", contentType)
	h.AttachMedia(c)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
