package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/process"

	"BarHarvest/internal/domain/models"
	icache "BarHarvest/internal/service/cache"
	"BarHarvest/internal/service/ratelimit"
	"BarHarvest/internal/usecase"
	xhttp "BarHarvest/pkg/http"
	xlogger "BarHarvest/pkg/logger"
)

// HarvestService is what the HTTP surface needs from the harvester.
type HarvestService interface {
	Status() usecase.Status
	Recrawl(p models.Pair) (usecase.RecrawlResult, error)
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads,omitempty"`
}

type StatusResponse struct {
	usecase.Status
	Process *ProcessStats `json:"process,omitempty"`
}

type RecrawlResponse struct {
	Symbol   string                `json:"symbol"`
	Interval string                `json:"interval"`
	Result   usecase.RecrawlResult `json:"result"`
}

// Recrawl commands are throttled globally to this many per second with a small burst.
const (
	recrawlBurst     = 20
	recrawlPerSecond = 5

	// CPU percent needs two samples to mean anything, so frequent polls reuse one.
	processStatsTTL = 2 * time.Second
)

// HarvestEchoHandler serves the status and manual recrawl endpoints.
type HarvestEchoHandler struct {
	logger  *xlogger.Logger
	svc     HarvestService
	limiter *ratelimit.Limiter
	stats   func() (*ProcessStats, error)
	cached  *icache.TTLCache[*ProcessStats]
}

func NewHarvestEchoHandler(logger *xlogger.Logger, svc HarvestService, limiter *ratelimit.Limiter) *HarvestEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &HarvestEchoHandler{logger: logger, svc: svc, limiter: limiter, stats: currentProcessStats, cached: icache.NewTTLCache[*ProcessStats]()}
}

func (h *HarvestEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.POST("/pairs/recrawl", h.Recrawl)
}

func (h *HarvestEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *HarvestEchoHandler) Status(c echo.Context) error {
	res := StatusResponse{Status: h.svc.Status()}
	if !xhttp.QueryBool(c, "lite") {
		if ps, err := h.cached.GetOrLoad("process", processStatsTTL, h.stats); err != nil {
			h.logger.Warn("process stats unavailable", xlogger.Error(err))
		} else {
			res.Process = ps
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}

func (h *HarvestEchoHandler) Recrawl(c echo.Context) error {
	req := &models.RecrawlCommand{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.limiter.Allow("recrawl", recrawlBurst, recrawlPerSecond) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many recrawl requests", http.StatusTooManyRequests))
	}

	res, err := h.svc.Recrawl(req.Pair())
	if err != nil {
		h.logger.Warn("recrawl rejected", xlogger.String("pair", req.Pair().String()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithParam("interval", req.Interval))
	}
	return xhttp.SuccessResponse(c, RecrawlResponse{Symbol: req.Symbol, Interval: req.Interval, Result: res})
}

func currentProcessStats() (*ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	threads, _ := p.NumThreads()
	return &ProcessStats{PID: pid, RSSBytes: mem.RSS, CPUPercent: cpu, Threads: threads}, nil
}
