package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.Any("/api/submit", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(method, "/api/submit", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAllowListedOrigin(t *testing.T) {
	rec := serve(t, []string{"https://lab.example.org/"}, http.MethodPost, "https://lab.example.org")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "https://lab.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestUnknownOriginGetsNoAllowHeader(t *testing.T) {
	rec := serve(t, []string{"https://lab.example.org"}, http.MethodPost, "https://evil.example.com")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEmptyListAllowsAll(t *testing.T) {
	rec := serve(t, nil, http.MethodGet, "")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	rec := serve(t, nil, http.MethodOptions, "https://lab.example.org")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
