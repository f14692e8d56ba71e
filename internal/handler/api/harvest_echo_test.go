package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BarHarvest/internal/domain/models"
	icache "BarHarvest/internal/service/cache"
	"BarHarvest/internal/service/ratelimit"
	"BarHarvest/internal/usecase"
)

type fakeHarvest struct {
	status usecase.Status
	got    []models.Pair
	err    error
}

func (f *fakeHarvest) Status() usecase.Status { return f.status }

func (f *fakeHarvest) Recrawl(p models.Pair) (usecase.RecrawlResult, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, p)
	return usecase.RecrawlRevived, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(svc HarvestService) (*echo.Echo, *HarvestEchoHandler) {
	e := echo.New()
	h := NewHarvestEchoHandler(nil, svc, ratelimit.New())
	h.stats = func() (*ProcessStats, error) { return &ProcessStats{PID: 42, RSSBytes: 1024}, nil }
	h.RegisterRoutes(e)
	return e, h
}

func do(t *testing.T, e *echo.Echo, method, path, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(&fakeHarvest{})
	env := do(t, e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestStatus(t *testing.T) {
	svc := &fakeHarvest{status: usecase.Status{Ready: 3, Waiting: 2, Errored: 1, LastRun: &usecase.RunSummary{ID: "run-1"}}}
	e, h := newTestServer(svc)

	env := do(t, e, http.MethodGet, "/api/v1/status", "")
	var got StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 3, got.Ready)
	assert.Equal(t, 1, got.Errored)
	assert.Equal(t, "run-1", got.LastRun.ID)
	require.NotNil(t, got.Process)
	assert.Equal(t, int32(42), got.Process.PID)

	env = do(t, e, http.MethodGet, "/api/v1/status?lite=true", "")
	got = StatusResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Nil(t, got.Process)
	assert.Equal(t, 3, got.Ready)

	h.stats = func() (*ProcessStats, error) { return nil, errors.New("no proc") }
	env = do(t, e, http.MethodGet, "/api/v1/status", "")
	got = StatusResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.NotNil(t, got.Process, "recent sample is reused")

	h.cached = icache.NewTTLCache[*ProcessStats]()
	env = do(t, e, http.MethodGet, "/api/v1/status", "")
	got = StatusResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Nil(t, got.Process)
}

func TestRecrawl(t *testing.T) {
	svc := &fakeHarvest{}
	e, _ := newTestServer(svc)

	env := do(t, e, http.MethodPost, "/api/v1/pairs/recrawl", `{"symbol":"NASDAQ:AAPL","interval":"1D"}`)
	assert.Equal(t, http.StatusOK, env.Status)
	var got RecrawlResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, usecase.RecrawlRevived, got.Result)
	assert.Equal(t, []models.Pair{models.NewPair("NASDAQ:AAPL", "1D")}, svc.got)

	env = do(t, e, http.MethodPost, "/api/v1/pairs/recrawl", `{"symbol":"NASDAQ:AAPL"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, string(env.Data), "ERR_REQUIRED")

	svc.err = errors.New(`invalid interval "7X"`)
	env = do(t, e, http.MethodPost, "/api/v1/pairs/recrawl", `{"symbol":"A","interval":"7X"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, string(env.Data), "ERR_BAD_REQUEST")
}

func TestRecrawlThrottled(t *testing.T) {
	e, _ := newTestServer(&fakeHarvest{})
	var last envelope
	for i := 0; i <= recrawlBurst; i++ {
		last = do(t, e, http.MethodPost, "/api/v1/pairs/recrawl", `{"symbol":"A","interval":"1D"}`)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Status)
}
