package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/internal/repository"
	"github.com/noah-isme/ireporter/internal/service"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type staticTokens map[string]*models.JWTClaims

func (s staticTokens) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAuth, "invalid token")
	}
	return claims, nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []models.AuditEntry
}

func (a *auditRecorder) Append(ctx context.Context, entry *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *entry)
	return nil
}

type exporterStub struct{ format string }

func (e *exporterStub) Export(ctx context.Context, format string) (*service.ExportFile, error) {
	e.format = format
	return &service.ExportFile{Filename: "reports.csv", ContentType: "text/csv", Data: []byte("ID\n")}, nil
}

type openerStub struct{}

func (openerStub) Open(ctx context.Context, token string) (*os.File, *repository.MediaRecord, error) {
	return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid media link")
}

func newTestRouter(reports *reportServiceMock, audit *auditRecorder, exporter *exporterStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{
		APIPrefix: "/api/v1",
		Tokens: staticTokens{
			"citizen": {UserID: "u1", Role: models.RoleCitizen},
			"admin":   {UserID: "a1", Role: models.RoleAdmin},
		},
		Audit:   audit,
		Auth:    NewAuthHandler(&authServiceMock{}),
		Reports: NewReportHandler(reports, 1024),
		Media:   NewMediaHandler(openerStub{}),
		Export:  NewExportHandler(exporter),
		Ops:     NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{"db": func(context.Context) error { return nil }}),
	})
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterRequiresToken(t *testing.T) {
	r := newTestRouter(&reportServiceMock{}, &auditRecorder{}, &exporterStub{})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/reports", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/redflags", "bogus", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/redflags", "citizen", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@example.com","password":"x"}`).Code)
}

func TestRouterKindGroupsAndAudit(t *testing.T) {
	reports := &reportServiceMock{}
	audit := &auditRecorder{}
	r := newTestRouter(reports, audit, &exporterStub{})

	w := do(r, http.MethodPost, "/api/v1/interventions", "citizen", `{"title":"Pothole","description":"Deep"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.KindIntervention, reports.lastKind)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionReportCreate, audit.logs[0].Action)
	assert.Equal(t, "u1", *audit.logs[0].ActorID)

	w = do(r, http.MethodGet, "/api/v1/redflags/42", "citizen", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.KindRedFlag, reports.lastKind)
	assert.Equal(t, "42", reports.lastID)
}

func TestRouterStatusChangeIsAdminOnly(t *testing.T) {
	reports := &reportServiceMock{}
	audit := &auditRecorder{}
	r := newTestRouter(reports, audit, &exporterStub{})

	w := do(r, http.MethodPatch, "/api/v1/redflags/42/status", "citizen", `{"status":"RESOLVED"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, reports.statusCalls)
	assert.Empty(t, audit.logs)

	w = do(r, http.MethodPatch, "/api/v1/redflags/42/status", "admin", `{"status":"RESOLVED"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "42", audit.logs[0].SubjectID)
}

func TestRouterAdminAndOpsRoutes(t *testing.T) {
	exporter := &exporterStub{}
	r := newTestRouter(&reportServiceMock{}, &auditRecorder{}, exporter)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/v1/admin/reports/export", "citizen", "").Code)

	w := do(r, http.MethodGet, "/api/v1/admin/reports/export?format=pdf", "admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf", exporter.format)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reports.csv")

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/admin/metrics", "admin", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/v1/media/forged", "", "").Code)
}
