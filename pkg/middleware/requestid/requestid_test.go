package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var seen string
	r.GET("/", func(c *gin.Context) { seen = Value(c) })

	cases := map[string]bool{
		"":                       false,
		"trace-42.a_b":           true,
		"has space":              false,
		strings.Repeat("x", 200): false,
	}
	for incoming, kept := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(Header, incoming)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, seen, w.Header().Get(Header))
		if kept {
			assert.Equal(t, incoming, seen)
			continue
		}
		_, err := uuid.Parse(seen)
		require.NoError(t, err, incoming)
	}
}
