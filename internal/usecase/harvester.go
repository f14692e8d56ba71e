package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/internal/scheduler"
	"BarHarvest/pkg/logger"
	"BarHarvest/pkg/metrics"
	"BarHarvest/pkg/util"
)

// Maintenance task names.
const (
	TaskLoadSymbol   = "task_load_symbol"
	TaskGetBars      = "task_get_bars"
	TaskUpdateLogger = "task_update_logger"
	TaskUpdateAuth   = "task_update_auth"
)

var ErrUnknownTask = errors.New("unknown task")

// Rotator reopens the log output; *logger.Logger implements it.
type Rotator interface {
	Rotate() error
}

type HarvesterConfig struct {
	LimitPerLoad     int
	BatchLimit       int
	IdleSleep        time.Duration
	LoadSymbolsEvery time.Duration
	GetBarsEvery     time.Duration
	UpdateAuthEvery  time.Duration
	UpdateLoggerCron string
}

func (c HarvesterConfig) withDefaults() HarvesterConfig {
	if c.LimitPerLoad <= 0 {
		c.LimitPerLoad = 1000
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 1000
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = time.Second
	}
	if c.LoadSymbolsEvery <= 0 {
		c.LoadSymbolsEvery = time.Minute
	}
	if c.GetBarsEvery <= 0 {
		c.GetBarsEvery = time.Minute
	}
	if c.UpdateAuthEvery <= 0 {
		c.UpdateAuthEvery = time.Hour
	}
	if c.UpdateLoggerCron == "" {
		c.UpdateLoggerCron = "0 0 * * *"
	}
	return c
}

// RunSummary describes the last get-bars run.
type RunSummary struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Requested int           `json:"requested"`
	Resolved  int           `json:"resolved"`
	Requeued  int           `json:"requeued"`
	Error     string        `json:"error,omitempty"`
}

// Status is a point-in-time view of the harvester.
type Status struct {
	StartedAt    time.Time   `json:"started_at"`
	Ready        int         `json:"ready"`
	Waiting      int         `json:"waiting"`
	Errored      int         `json:"errored"`
	TasksReady   int         `json:"tasks_ready"`
	TasksWaiting int         `json:"tasks_waiting"`
	NextSymbolID int64       `json:"next_symbol_id"`
	Crawled      int         `json:"crawled"`
	Authorized   bool        `json:"authorized"`
	Pro          bool        `json:"pro"`
	NextDue      *time.Time  `json:"next_due,omitempty"`
	LastRun      *RunSummary `json:"last_run,omitempty"`
}

// RecrawlResult tells the caller what a recrawl request changed.
type RecrawlResult string

const (
	RecrawlRevived RecrawlResult = "revived"
	RecrawlQueued  RecrawlResult = "queued"
)

// Harvester drives the crawl: it loads symbols from the catalog, expands them into pairs,
// fetches ready pairs in batches and merges the results into the series store.
type Harvester struct {
	cfg      HarvesterConfig
	catalog  repository.SymbolCatalog
	store    repository.SeriesStore
	fetcher  repository.BarFetcher
	auth     repository.AuthProvider
	sink     repository.OutcomeSink
	archive  repository.BatchArchive
	metrics  repository.Metrics
	rotator  Rotator
	log      *logger.Logger
	pairs    *scheduler.WorkScheduler
	tasks    *scheduler.TaskScheduler
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	loggerAt scheduler.Task

	mu           sync.RWMutex
	current      *models.Auth
	nextSymbolID int64
	crawled      map[models.Pair]struct{}
	startedAt    time.Time
	lastRun      *RunSummary
}

type HarvesterDeps struct {
	Catalog repository.SymbolCatalog
	Store   repository.SeriesStore
	Fetcher repository.BarFetcher
	Auth    repository.AuthProvider
	Sink    repository.OutcomeSink
	Archive repository.BatchArchive
	Metrics repository.Metrics
	Rotator Rotator
	Clock   func() time.Time
}

func NewHarvester(cfg HarvesterConfig, deps HarvesterDeps, log *logger.Logger) (*Harvester, error) {
	cfg = cfg.withDefaults()
	sched, err := scheduler.ParseCron(cfg.UpdateLoggerCron)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Harvester{
		cfg:       cfg,
		catalog:   deps.Catalog,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		auth:      deps.Auth,
		sink:      deps.Sink,
		archive:   deps.Archive,
		metrics:   m,
		rotator:   deps.Rotator,
		log:       log.With(logger.String("component", "harvester")),
		pairs:     scheduler.NewWorkScheduler(clock),
		tasks:     scheduler.NewTaskScheduler(clock),
		now:       clock,
		sleep:     sleepCtx,
		loggerAt:  scheduler.Task{Name: TaskUpdateLogger, Cron: sched},
		crawled:   make(map[models.Pair]struct{}),
		startedAt: clock(),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Schedule pushes the recurring maintenance tasks. Symbol loading and bar fetching start
// immediately; log rotation and auth refresh wait for their first recurrence.
func (h *Harvester) Schedule() error {
	pushes := []struct {
		task  scheduler.Task
		ready bool
	}{
		{scheduler.Task{Name: TaskLoadSymbol, Every: h.cfg.LoadSymbolsEvery}, true},
		{scheduler.Task{Name: TaskGetBars, Every: h.cfg.GetBarsEvery}, true},
		{h.loggerAt, false},
		{scheduler.Task{Name: TaskUpdateAuth, Every: h.cfg.UpdateAuthEvery}, false},
	}
	for _, p := range pushes {
		if err := h.tasks.Push(p.task, p.ready); err != nil {
			return err
		}
	}
	return nil
}

// Run refreshes auth, schedules the maintenance tasks and processes them until ctx is done.
func (h *Harvester) Run(ctx context.Context) error {
	h.UpdateAuth(ctx)
	if err := h.Schedule(); err != nil {
		return err
	}
	h.log.Info("harvester started")
	for ctx.Err() == nil {
		if !h.Step(ctx) {
			h.sleep(ctx, h.cfg.IdleSleep)
		}
	}
	h.log.Info("harvester stopped")
	return nil
}

// Step runs at most one ready task and reports whether one ran.
func (h *Harvester) Step(ctx context.Context) bool {
	t, ok := h.tasks.Pop()
	if !ok {
		return false
	}
	h.runTask(ctx, t)
	return true
}

func (h *Harvester) runTask(ctx context.Context, t scheduler.Task) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.RecordError("panic")
			h.log.Error("task panicked", logger.String("task", t.Name), logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
		}
	}()
	if err := h.HandleTask(ctx, t); err != nil {
		h.metrics.RecordError("task")
		h.log.Error("task failed", logger.String("task", t.Name), logger.Error(err))
	}
}

// HandleTask runs one maintenance task. Recurrence is handled by the task scheduler.
func (h *Harvester) HandleTask(ctx context.Context, t scheduler.Task) error {
	h.log.Info("handling task", logger.String("task", t.Name))
	switch t.Name {
	case TaskUpdateAuth:
		h.UpdateAuth(ctx)
	case TaskLoadSymbol:
		if err := h.LoadSymbolPairs(ctx); err != nil {
			return err
		}
		h.pushGetBarsIfReady()
	case TaskGetBars:
		if _, err := h.GetBars(ctx); err != nil {
			return err
		}
		h.pushGetBarsIfReady()
	case TaskUpdateLogger:
		if h.rotator != nil {
			if err := h.rotator.Rotate(); err != nil {
				return fmt.Errorf("rotate log: %w", err)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.Name)
	}
	return nil
}

func (h *Harvester) pushGetBarsIfReady() {
	if h.pairs.ReadySize() > 0 {
		_ = h.tasks.Push(scheduler.Task{Name: TaskGetBars, Every: h.cfg.GetBarsEvery}, true)
	}
}

// UpdateAuth refreshes the credentials. On failure the previous credentials stay in use.
func (h *Harvester) UpdateAuth(ctx context.Context) {
	if h.auth == nil {
		return
	}
	h.log.Info("getting auth token")
	a, err := h.auth.GetAuth(ctx)
	if err != nil {
		h.metrics.RecordError("auth")
		h.log.Error("failed to get auth", logger.Error(err))
		return
	}
	h.mu.Lock()
	h.current = a
	h.mu.Unlock()
	if a == nil {
		h.log.Warn("no credentials configured, crawling unauthorized")
		return
	}
	h.log.Info("got auth token", logger.Bool("is_pro", a.IsPro), logger.String("plan", a.ProPlan))
}

func (h *Harvester) currentAuth() *models.Auth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// LoadSymbolPairs reads the next catalog page and schedules every pair of every new symbol.
func (h *Harvester) LoadSymbolPairs(ctx context.Context) error {
	h.mu.RLock()
	from := h.nextSymbolID
	h.mu.RUnlock()

	h.log.Info("loading symbol list", logger.Int64("from_id", from))
	records, err := h.catalog.ListSymbols(ctx, from, h.cfg.LimitPerLoad)
	if err != nil {
		return fmt.Errorf("list symbols: %w", err)
	}
	h.log.Info("symbols loaded", logger.Int("count", len(records)), logger.Int64("from_id", from))
	if len(records) == 0 {
		return nil
	}

	h.mu.Lock()
	h.nextSymbolID = records[len(records)-1].ID + 1
	h.mu.Unlock()

	a := h.currentAuth()
	isPro := a != nil && a.IsPro
	for _, rec := range records {
		for _, interval := range models.IntervalsForSymbol(rec.Kind, isPro) {
			h.schedulePair(models.NewPair(rec.Name, interval))
		}
	}
	h.reportQueues()
	return nil
}

// schedulePair makes an unknown pair ready when it was never stored or its last update is at
// least one cooldown old; otherwise it waits for the rest of the cooldown.
func (h *Harvester) schedulePair(p models.Pair) {
	if h.pairs.Known(p) {
		return
	}
	cooldown, err := cooldownOf(p)
	if err != nil {
		h.log.Warn("skipping pair with invalid interval", logger.String("pair", p.String()), logger.Error(err))
		return
	}
	last, ok, err := h.store.LastUpdate(p)
	if err != nil {
		h.log.Warn("reading last update failed", logger.String("pair", p.String()), logger.Error(err))
		h.pairs.MarkReady(p)
		return
	}
	if !ok {
		h.pairs.MarkReady(p)
		return
	}
	age := h.now().Sub(last)
	if age >= cooldown {
		h.pairs.MarkReady(p)
		return
	}
	h.pairs.MarkWaiting(p, cooldown-age)
}

func cooldownOf(p models.Pair) (time.Duration, error) {
	s, err := models.CooldownSeconds(p.Interval)
	if err != nil {
		return 0, err
	}
	return time.Duration(s) * time.Second, nil
}

func (h *Harvester) reportQueues() {
	h.metrics.SetQueueSizes(h.pairs.ReadySize(), h.pairs.WaitingSize(), h.pairs.ErrorSize())
}

// GetBars fetches one batch of ready pairs and applies every result. Pairs the fetch did
// not resolve go back to the ready list.
func (h *Harvester) GetBars(ctx context.Context) (*RunSummary, error) {
	batch := h.pairs.Drain(h.cfg.BatchLimit)
	if len(batch) == 0 {
		h.log.Warn("no symbol pair to crawl")
		return nil, nil
	}
	h.log.Info("getting bars",
		logger.Int("pairs", len(batch)),
		logger.Int("ready", h.pairs.ReadySize()),
		logger.Int("waiting", h.pairs.WaitingSize()),
		logger.Int("error", h.pairs.ErrorSize()),
	)

	run := &RunSummary{ID: uuid.NewString(), StartedAt: h.now(), Requested: len(batch)}
	log := h.log.With(logger.String("run_id", run.ID))

	// An in-flight batch is finished even during shutdown; the engine bounds it by its timeouts.
	results, fetchErr := h.fetcher.Fetch(context.WithoutCancel(ctx), h.currentAuth().WireToken(), batch)
	if fetchErr != nil {
		run.Error = fetchErr.Error()
		log.Error("fetch ended with error", logger.Int("results", len(results)), logger.Error(fetchErr))
	}

	pending := make(map[models.Pair]struct{}, len(batch))
	for _, p := range batch {
		pending[p] = struct{}{}
	}
	outcomes := make([]models.Outcome, 0, len(results))
	for i, r := range results {
		if _, ok := pending[r.Pair]; !ok {
			log.Error("result for a pair not requested or duplicated", logger.String("pair", r.Pair.String()))
			continue
		}
		delete(pending, r.Pair)
		o := h.applyResult(log, i+1, len(results), r)
		o.RunID = run.ID
		outcomes = append(outcomes, o)
	}
	run.Resolved = len(outcomes)

	h.mu.Lock()
	crawled := len(h.crawled)
	h.mu.Unlock()
	elapsed := h.now().Sub(h.startedAt).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(crawled) / elapsed
	}
	log.Info("throughput", logger.Float64("duration_sec", elapsed), logger.Int("pairs", crawled), logger.Float64("pairs_per_sec", rate))

	if len(pending) > 0 {
		missing := make([]models.Pair, 0, len(pending))
		for _, p := range batch {
			if _, ok := pending[p]; ok {
				missing = append(missing, p)
			}
		}
		log.Warn("fewer results than requested", logger.Int("results", len(results)), logger.Int("expected", len(batch)))
		h.pairs.RequeueReady(missing)
		run.Requeued = len(missing)
	}

	run.Duration = h.now().Sub(run.StartedAt)
	h.metrics.RecordLatency("get_bars", run.Duration.Seconds())
	h.reportQueues()

	if h.sink != nil && len(outcomes) > 0 {
		if err := h.sink.Record(context.WithoutCancel(ctx), outcomes); err != nil {
			h.metrics.RecordError("outcome_sink")
			log.Warn("recording outcomes failed", logger.Error(err))
		}
	}

	h.mu.Lock()
	h.lastRun = run
	h.mu.Unlock()
	return run, nil
}

// applyResult writes one result and moves its pair to the waiting or error state.
func (h *Harvester) applyResult(log *logger.Logger, n, total int, r models.FetchResult) models.Outcome {
	p := r.Pair
	o := models.Outcome{Symbol: p.Symbol, Interval: p.Interval, At: h.now()}
	progress := fmt.Sprintf("%d/%d", n, total)

	defer func() {
		h.mu.Lock()
		h.crawled[p] = struct{}{}
		h.mu.Unlock()
		h.metrics.RecordPairResult(p.Interval, o.Status)
	}()

	if r.Empty() {
		if err := h.store.WriteEmpty(p); err != nil {
			log.Error("writing empty file failed", logger.String("pair", p.String()), logger.Error(err))
		}
		log.Warn("got no bars", logger.String("progress", progress), logger.String("pair", p.String()), logger.String("event", r.Detail.Event))
		h.pairs.MarkError(p)
		o.Status = models.OutcomeEmpty
		o.Message = r.Detail.Payload
		return o
	}

	cooldown, _ := cooldownOf(p)
	defer h.pairs.MarkWaiting(p, cooldown)

	bars, err := models.BarsFromRaw(r.Bars)
	if err != nil {
		log.Warn("not supported pair", logger.String("progress", progress), logger.String("pair", p.String()), logger.Any("first_bar", r.Bars[0]))
		o.Status = models.OutcomeUnsupported
		o.Message = err.Error()
		return o
	}
	o.Bars = len(bars)
	o.FirstTS = bars[0].Timestamp
	o.LastTS = bars[len(bars)-1].Timestamp

	report, err := h.store.Append(p, bars)
	if err != nil {
		h.metrics.RecordError("store")
		log.Error("writing bars failed", logger.String("pair", p.String()), logger.Error(err))
		o.Status = models.OutcomeFailed
		o.Message = err.Error()
		return o
	}
	h.metrics.RecordBarsWritten(p.Interval, len(bars))
	log.Info("got bars",
		logger.String("progress", progress),
		logger.Int("bars", len(bars)),
		logger.String("pair", p.String()),
		logger.String("from", util.FormatUnix(o.FirstTS)),
		logger.String("to", util.FormatUnix(o.LastTS)),
	)

	o.Status = models.OutcomeWritten
	if !report.OK() {
		h.metrics.RecordMergeWarning(p.Interval)
		log.Error("merge warning", logger.String("pair", p.String()), logger.String("message", report.Message), logger.Any("details", report.Details))
		o.Status = models.OutcomeWarning
		o.Message = report.Message
	}

	if h.archive != nil {
		if path, err := h.archive.Archive(p, bars); err != nil {
			log.Warn("archiving batch failed", logger.String("pair", p.String()), logger.Error(err))
		} else if path != "" {
			log.Debug("batch archived", logger.String("path", path))
		}
	}
	return o
}

// Recrawl makes p ready for the next get-bars run. It is the only way an errored pair
// returns to scheduling.
func (h *Harvester) Recrawl(p models.Pair) (RecrawlResult, error) {
	if p.Symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if _, err := models.IntervalSeconds(p.Interval); err != nil {
		return "", err
	}
	result := RecrawlQueued
	if h.pairs.Revive(p) {
		result = RecrawlRevived
	} else {
		h.pairs.MarkReady(p)
	}
	_ = h.tasks.Push(scheduler.Task{Name: TaskGetBars, Every: h.cfg.GetBarsEvery}, true)
	h.log.Info("recrawl requested", logger.String("pair", p.String()), logger.String("result", string(result)))
	h.reportQueues()
	return result, nil
}

func (h *Harvester) Status() Status {
	tr, tw := h.tasks.Pending()
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Status{
		StartedAt:    h.startedAt,
		Ready:        h.pairs.ReadySize(),
		Waiting:      h.pairs.WaitingSize(),
		Errored:      h.pairs.ErrorSize(),
		TasksReady:   tr,
		TasksWaiting: tw,
		NextSymbolID: h.nextSymbolID,
		Crawled:      len(h.crawled),
		Authorized:   h.current != nil,
		Pro:          h.current != nil && h.current.IsPro,
	}
	if due, ok := h.pairs.NextDue(); ok {
		s.NextDue = &due
	}
	if h.lastRun != nil {
		run := *h.lastRun
		s.LastRun = &run
	}
	return s
}
