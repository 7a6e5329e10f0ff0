package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type observed struct {
	method, path string
	status       int
}

type recordingObserver struct {
	calls []observed
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.calls = append(r.calls, observed{method, path, status})
}

func TestMetricsUsesRouteTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/redflags/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/redflags/1", "/redflags/2", "/wp-login.php"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []observed{
		{http.MethodGet, "/redflags/:id", http.StatusOK},
		{http.MethodGet, "/redflags/:id", http.StatusOK},
		{http.MethodGet, unmatchedRoute, http.StatusNotFound},
	}, obs.calls)
}
