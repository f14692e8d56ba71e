package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/clickhouse"
	"BarHarvest/pkg/logger"
)

// sqlCatalog pages through a symbol(symbol_id, symbol_name, symbol_data) table. The query is
// plain SQL understood by both ClickHouse and SQLite.
type sqlCatalog struct {
	db    *sql.DB
	table string
	log   *logger.Logger
}

func (c *sqlCatalog) ListSymbols(ctx context.Context, afterID int64, limit int) ([]models.SymbolRecord, error) {
	q := fmt.Sprintf("SELECT symbol_id, symbol_name, symbol_data FROM %s WHERE symbol_id >= ? ORDER BY symbol_id ASC LIMIT ?", c.table)
	rows, err := c.db.QueryContext(ctx, q, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var out []models.SymbolRecord
	for rows.Next() {
		var (
			id   int64
			name string
			raw  string
		)
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			c.log.Warn("skipping symbol with invalid data", logger.Int64("symbol_id", id), logger.String("symbol", name), logger.Error(err))
			continue
		}
		kind, _ := data["type"].(string)
		out = append(out, models.SymbolRecord{ID: id, Name: name, Kind: kind, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return out, nil
}

// ClickHouseCatalog reads the symbol table from ClickHouse. The client is owned by the caller.
type ClickHouseCatalog struct {
	sqlCatalog
}

var _ repository.SymbolCatalog = (*ClickHouseCatalog)(nil)

func NewClickHouseCatalog(client *clickhouse.Client, table string, log *logger.Logger) *ClickHouseCatalog {
	return newClickHouseCatalog(client.DB(), table, log)
}

func newClickHouseCatalog(db *sql.DB, table string, log *logger.Logger) *ClickHouseCatalog {
	if log == nil {
		log = logger.Nop()
	}
	return &ClickHouseCatalog{sqlCatalog{db: db, table: table, log: log.With(logger.String("component", "catalog"))}}
}

// SchemaStatements creates the catalog table if missing.
func (c *ClickHouseCatalog) SchemaStatements() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		symbol_id   Int64,
		symbol_name String,
		symbol_data String
	) ENGINE = ReplacingMergeTree ORDER BY symbol_id`, c.table)}
}

func (c *ClickHouseCatalog) Close() error { return nil }
