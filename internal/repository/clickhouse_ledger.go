package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/clickhouse"
)

// ClickHouseLedger keeps one row per pair outcome so crawl history can be queried.
type ClickHouseLedger struct {
	db    *sql.DB
	table string
}

var _ repository.OutcomeSink = (*ClickHouseLedger)(nil)

func NewClickHouseLedger(client *clickhouse.Client, table string) *ClickHouseLedger {
	return newClickHouseLedger(client.DB(), table)
}

func newClickHouseLedger(db *sql.DB, table string) *ClickHouseLedger {
	return &ClickHouseLedger{db: db, table: table}
}

func (l *ClickHouseLedger) SchemaStatements() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		at           DateTime64(3),
		run_id       String,
		symbol       String,
		bar_interval LowCardinality(String),
		status       LowCardinality(String),
		bars         UInt32,
		first_ts     Float64,
		last_ts      Float64,
		message      String
	) ENGINE = MergeTree ORDER BY (symbol, bar_interval, at)`, l.table)}
}

func (l *ClickHouseLedger) Record(ctx context.Context, outcomes []models.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(outcomes); start += chunkSize {
		end := min(start+chunkSize, len(outcomes))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, o := range outcomes[start:end] {
			if o.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, o.At, o.RunID, o.Symbol, o.Interval, o.Status, o.Bars, o.FirstTS, o.LastTS, o.Message)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (at, run_id, symbol, bar_interval, status, bars, first_ts, last_ts, message) VALUES %s",
			l.table, strings.Join(values, ","))
		if _, err := l.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert outcomes: %w", err)
		}
	}
	return nil
}

func (l *ClickHouseLedger) Close() error { return nil }
