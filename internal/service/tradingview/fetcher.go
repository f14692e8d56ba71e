package tradingview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/logger"
	"BarHarvest/pkg/metrics"
)

// DialFunc opens one connection for one worker.
type DialFunc func(ctx context.Context) (Conn, error)

// Fetcher splits a pair list into contiguous partitions and runs each on its own
// connection and engine. Partitions share nothing; results are joined in partition order
// once every worker has returned.
type Fetcher struct {
	dial    DialFunc
	cfg     EngineConfig
	workers int
	log     *logger.Logger
	metrics repository.Metrics
}

var _ repository.BarFetcher = (*Fetcher)(nil)

func NewFetcher(dial DialFunc, cfg EngineConfig, workers int, log *logger.Logger, m repository.Metrics) *Fetcher {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Fetcher{dial: dial, cfg: cfg, workers: workers, log: log, metrics: m}
}

// Partition splits pairs into chunks of ceil(len/workers).
func Partition(pairs []models.Pair, workers int) [][]models.Pair {
	if len(pairs) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	size := (len(pairs) + workers - 1) / workers
	var parts [][]models.Pair
	for i := 0; i < len(pairs); i += size {
		parts = append(parts, pairs[i:min(i+size, len(pairs))])
	}
	return parts
}

// Fetch returns the results of every partition. A failed partition contributes the pairs
// it resolved before failing, and its error is joined into the returned error.
func (f *Fetcher) Fetch(ctx context.Context, token string, pairs []models.Pair) ([]models.FetchResult, error) {
	start := time.Now()
	parts := Partition(pairs, f.workers)

	results := make([][]models.FetchResult, len(parts))
	errs := make([]error, len(parts))

	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, part []models.Pair) {
			defer wg.Done()
			results[i], errs[i] = f.runPartition(ctx, i, token, part)
		}(i, part)
	}
	wg.Wait()

	var out []models.FetchResult
	for _, r := range results {
		out = append(out, r...)
	}

	elapsed := time.Since(start)
	f.metrics.RecordLatency("fetch", elapsed.Seconds())
	f.log.Info("fetched bars",
		logger.Int("pairs", len(pairs)),
		logger.Int("results", len(out)),
		logger.Int("workers", len(parts)),
		logger.Duration("elapsed", elapsed))

	return out, errors.Join(errs...)
}

func (f *Fetcher) runPartition(ctx context.Context, worker int, token string, pairs []models.Pair) (res []models.FetchResult, err error) {
	log := f.log.With(logger.Int("worker", worker))
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker %d panic: %v", worker, p)
			log.Error("worker panic", logger.Any("panic", p))
		}
	}()

	conn, err := f.dial(ctx)
	if err != nil {
		f.metrics.RecordError("dial")
		log.Error("dial failed", logger.Error(err))
		return nil, fmt.Errorf("worker %d: %w", worker, err)
	}
	defer conn.Close()

	res, err = NewEngine(conn, f.cfg, log, f.metrics).Run(ctx, token, pairs)
	if err != nil {
		log.Error("run ended early",
			logger.Error(err),
			logger.Int("resolved", len(res)),
			logger.Int("pairs", len(pairs)))
		return res, fmt.Errorf("worker %d: %w", worker, err)
	}
	return res, nil
}
