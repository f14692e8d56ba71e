package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
)

type parquetBar struct {
	Timestamp float64 `parquet:"timestamp"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetArchive keeps every fetched batch as written, next to the merged CSV series.
type ParquetArchive struct {
	root string
}

var _ repository.BatchArchive = (*ParquetArchive)(nil)

func NewParquetArchive(root string) *ParquetArchive {
	return &ParquetArchive{root: root}
}

// Archive writes <root>/<symbol>/<interval>/<first>-<last>.parquet and returns the path.
// An empty batch writes nothing.
func (a *ParquetArchive) Archive(pair models.Pair, bars []models.Bar) (string, error) {
	if len(bars) == 0 {
		return "", nil
	}
	dir := filepath.Join(a.root, pair.Symbol, pair.Interval)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%d.parquet", int64(bars[0].Timestamp), int64(bars[len(bars)-1].Timestamp)))

	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar(b)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("write parquet %s: %w", path, err)
	}
	return path, nil
}
