package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, "fine") })
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error { return echo.ErrNotFound })
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer(routes{}, WithRegistry(prometheus.NewRegistry()))

	rec := serve(s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")

	rec = serve(s, "/ok")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	s := NewServer(routes{}, WithRegistry(prometheus.NewRegistry()))

	serve(s, "/ok")
	serve(s, "/missing")

	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `barharvest_http_requests_total{method="GET",route="/ok",status="200"} 1`)
	assert.Contains(t, body, `barharvest_http_requests_total{method="GET",route="/missing",status="404"} 1`)
}

func TestServerCORSPreflight(t *testing.T) {
	s := NewServer(routes{}, WithRegistry(prometheus.NewRegistry()), WithCORS(true))

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "http://dash.local")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(routes{}, WithRegistry(prometheus.NewRegistry()), WithAddr("127.0.0.1", 0))
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/ok")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fine")

	require.NoError(t, s.Stop(context.Background()))
}
