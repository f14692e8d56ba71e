package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/logger"
)

// SQLiteCatalog is a file-backed symbol catalog for single-host deployments.
type SQLiteCatalog struct {
	sqlCatalog
}

var _ repository.SymbolCatalog = (*SQLiteCatalog)(nil)

// OpenSQLiteCatalog opens (or creates) the database at path and runs migrations.
func OpenSQLiteCatalog(path, table string, log *logger.Logger) (*SQLiteCatalog, error) {
	if log == nil {
		log = logger.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	c := &SQLiteCatalog{sqlCatalog{db: db, table: table, log: log.With(logger.String("component", "catalog"))}}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c.log.Info("sqlite catalog opened", logger.String("path", path))
	return c, nil
}

func (c *SQLiteCatalog) migrate() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol_id   INTEGER PRIMARY KEY,
			symbol_name TEXT NOT NULL UNIQUE,
			symbol_data TEXT NOT NULL
		)`, c.table),
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts or replaces symbols by id.
func (c *SQLiteCatalog) Upsert(ctx context.Context, symbols []models.SymbolRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (symbol_id, symbol_name, symbol_data) VALUES (?, ?, ?) "+
			"ON CONFLICT(symbol_id) DO UPDATE SET symbol_name = excluded.symbol_name, symbol_data = excluded.symbol_data", c.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range symbols {
		data := make(map[string]any, len(s.Data)+1)
		for k, v := range s.Data {
			data[k] = v
		}
		if s.Kind != "" {
			data["type"] = s.Kind
		}
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, string(b)); err != nil {
			return fmt.Errorf("upsert %s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteCatalog) Close() error { return c.db.Close() }
