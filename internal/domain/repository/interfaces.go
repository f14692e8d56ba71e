package repository

import (
	"context"
	"time"

	"BarHarvest/internal/domain/models"
)

// SeriesStore persists one append-only series file per pair.
type SeriesStore interface {
	Append(pair models.Pair, bars []models.Bar) (*models.MergeReport, error)
	WriteEmpty(pair models.Pair) error
	// LastUpdate returns the stored last-row timestamp, or the file's modification time when
	// the file holds no rows. ok is false when no file exists.
	LastUpdate(pair models.Pair) (ts time.Time, ok bool, err error)
}

type SymbolCatalog interface {
	ListSymbols(ctx context.Context, afterID int64, limit int) ([]models.SymbolRecord, error)
	Close() error
}

type AuthProvider interface {
	// GetAuth returns nil without error when no credentials are configured.
	GetAuth(ctx context.Context) (*models.Auth, error)
}

// BarFetcher resolves every requested pair to at most one result. Pairs missing from the
// returned slice were not resolved and must be requeued by the caller.
type BarFetcher interface {
	Fetch(ctx context.Context, token string, pairs []models.Pair) ([]models.FetchResult, error)
}

type OutcomeSink interface {
	Record(ctx context.Context, outcomes []models.Outcome) error
	Close() error
}

type BatchArchive interface {
	Archive(pair models.Pair, bars []models.Bar) (string, error)
}

type Metrics interface {
	RecordPairResult(interval, status string)
	RecordBarsWritten(interval string, n int)
	RecordMergeWarning(interval string)
	RecordTimeout()
	RecordProtocolError(event string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetQueueSizes(ready, waiting, errored int)
}
