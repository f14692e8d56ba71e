package repository

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/logger"
	"BarHarvest/pkg/util"
)

// SeriesHeader is the first line of every series file.
const SeriesHeader = "timestamp,open,high,low,close,volume"

var ErrUnsortedBatch = errors.New("series batch is not strictly ascending")

// CSVSeriesStore keeps one CSV file per pair under root/<symbol>/<interval>.csv.
//
// Rows are only ever appended. When a batch overlaps stored rows, the stored rows from the
// overlap start onward are replaced by the batch; overlapping rows that disagree with the
// batch are copied to a sidecar diff file first. The replacement is written to a temp file
// and renamed over the series file.
type CSVSeriesStore struct {
	root      string
	errorFile string
	diffExt   string
	log       *logger.Logger

	errMu sync.Mutex
}

var _ repository.SeriesStore = (*CSVSeriesStore)(nil)

func NewCSVSeriesStore(root, errorFile, diffExt string, log *logger.Logger) *CSVSeriesStore {
	if diffExt == "" {
		diffExt = ".diff.csv"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CSVSeriesStore{
		root:      root,
		errorFile: errorFile,
		diffExt:   diffExt,
		log:       log.With(logger.String("component", "series_store")),
	}
}

func (s *CSVSeriesStore) Path(p models.Pair) string {
	return s.pathWithExt(p, ".csv")
}

func (s *CSVSeriesStore) DiffPath(p models.Pair) string {
	return s.pathWithExt(p, s.diffExt)
}

func (s *CSVSeriesStore) pathWithExt(p models.Pair, ext string) string {
	return filepath.Join(s.root, p.Symbol, p.Interval+ext)
}

// WriteEmpty creates a header-only file if the pair has none yet.
func (s *CSVSeriesStore) WriteEmpty(p models.Pair) error {
	path := s.Path(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create series dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create series file: %w", err)
	}
	if _, err := f.WriteString(SeriesHeader + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	return f.Close()
}

// LastUpdate reports when the pair's series was last known fresh.
func (s *CSVSeriesStore) LastUpdate(p models.Pair) (time.Time, bool, error) {
	path := s.Path(p)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("open series: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat series: %w", err)
	}
	dataStart, err := headerEnd(f, st.Size())
	if err != nil {
		return time.Time{}, false, err
	}
	if ts, ok := lastLineTimestamp(f, dataStart, st.Size()); ok {
		return util.UnixFloat(ts), true, nil
	}
	return st.ModTime(), true, nil
}

// Append merges an ascending batch into the pair's series.
func (s *CSVSeriesStore) Append(p models.Pair, bars []models.Bar) (*models.MergeReport, error) {
	report := &models.MergeReport{
		Status:   models.MergeOK,
		Message:  "success",
		Symbol:   p.Symbol,
		Interval: p.Interval,
	}
	if len(bars) == 0 {
		return report, s.WriteEmpty(p)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			return nil, fmt.Errorf("%w: row %d (%v after %v)", ErrUnsortedBatch, i, bars[i].Timestamp, bars[i-1].Timestamp)
		}
	}

	path := s.Path(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create series dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open series: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat series: %w", err)
	}
	size := st.Size()
	if size == 0 {
		n, err := f.WriteString(SeriesHeader + "\n")
		if err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		size = int64(n)
	}
	dataStart, err := headerEnd(f, size)
	if err != nil {
		return nil, err
	}

	first := bars[0].Timestamp
	lastTS, hasRows := lastLineTimestamp(f, dataStart, size)
	if !hasRows || lastTS < first {
		if err := appendRows(f, size, bars); err != nil {
			return nil, err
		}
		return report, nil
	}

	var unsearchable bool
	start := searchLineStart(f, size, dataStart, size, first, func(err error) {
		s.log.Warn("byte search failed", logger.String("path", path), logger.Error(err))
		s.recordError(path)
		unsearchable = true
	})
	if unsearchable {
		// Keep the file as is and only extend it past its last row.
		if err := appendRows(f, size, bars[searchBarIndex(bars, lastTS)+1:]); err != nil {
			return nil, err
		}
		report.Status = models.MergeWarning
		report.Message = "series not searchable, appended after last row"
		return report, nil
	}

	oldRows, err := readRows(f, start, size)
	if err != nil {
		s.log.Warn("overlapped rows unreadable", logger.String("path", path), logger.Error(err))
		s.recordError(path)
		oldRows = nil
	}

	newOverlap := bars[:searchBarIndex(bars, lastTS)+1]
	diffRows, details := diffOverlap(oldRows, newOverlap)
	if len(details) > 0 {
		report.Status = models.MergeWarning
		report.Message = "overlapped bars are different"
		report.Details = details
	}
	if len(diffRows) > 0 {
		if err := s.appendDiff(p, diffRows); err != nil {
			return nil, err
		}
	}

	if err := replaceTail(f, path, start, bars); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *CSVSeriesStore) appendDiff(p models.Pair, rows [][]float64) error {
	df, err := os.OpenFile(s.DiffPath(p), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open diff file: %w", err)
	}
	w := bufio.NewWriter(df)
	for _, r := range rows {
		w.WriteString(formatRow(r))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		df.Close()
		return fmt.Errorf("write diff file: %w", err)
	}
	return df.Close()
}

// recordError appends path to the error file, one path per line.
func (s *CSVSeriesStore) recordError(path string) {
	if s.errorFile == "" {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	f, err := os.OpenFile(s.errorFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		s.log.Error("open error file", logger.String("error_file", s.errorFile), logger.Error(err))
		return
	}
	defer f.Close()
	f.WriteString(path + "\n")
}

// headerEnd returns the offset of the first data row.
func headerEnd(r io.ReaderAt, size int64) (int64, error) {
	line, err := readLine(r, 0, size)
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	return min(int64(len(line))+1, size), nil
}

func appendRows(f *os.File, size int64, bars []models.Bar) error {
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("seek series end: %w", err)
	}
	w := bufio.NewWriter(f)
	if size > 0 {
		var last [1]byte
		if _, err := f.ReadAt(last[:], size-1); err == nil && last[0] != '\n' {
			w.WriteByte('\n')
		}
	}
	writeBars(w, bars)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	return nil
}

// replaceTail writes src[0:start) followed by bars to a temp file and renames it to path.
func replaceTail(src *os.File, path string, start int64, bars []models.Bar) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp series: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp series: %w", err)
	}

	w := bufio.NewWriter(tmp)
	if _, err := io.Copy(w, io.NewSectionReader(src, 0, start)); err != nil {
		cleanup()
		return fmt.Errorf("copy series prefix: %w", err)
	}
	writeBars(w, bars)
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("write temp series: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp series: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp series: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp series: %w", err)
	}
	return nil
}

func writeBars(w *bufio.Writer, bars []models.Bar) {
	for _, b := range bars {
		w.WriteString(formatRow(b.Values()))
		w.WriteByte('\n')
	}
}

func formatRow(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// readRows parses every row in [start, end).
func readRows(r io.ReaderAt, start, end int64) ([][]float64, error) {
	sc := bufio.NewScanner(io.NewSectionReader(r, start, end-start))
	var rows [][]float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		row := make([]float64, models.BarFields)
		if len(fields) > models.BarFields {
			return nil, fmt.Errorf("row %q has %d fields", line, len(fields))
		}
		for i, fld := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(fld), 64)
			if err != nil {
				return nil, fmt.Errorf("parse row %q: %w", line, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

// diffOverlap compares stored overlap rows with the batch prefix covering the same range.
// It returns the stored rows that the batch disagrees with.
func diffOverlap(old [][]float64, fresh []models.Bar) ([][]float64, []models.MergeDetail) {
	var diff [][]float64
	if len(old) == len(fresh) {
		for i, row := range old {
			if !equalRow(row, fresh[i].Values()) {
				diff = append(diff, row)
			}
		}
		if len(diff) == 0 {
			return nil, nil
		}
		return diff, []models.MergeDetail{{
			Msg:      "old_bars and new_bars are different",
			DiffRows: len(diff),
		}}
	}

	detail := models.MergeDetail{
		Msg:     "old_bars and new_bars have different length",
		OldRows: len(old),
		NewRows: len(fresh),
	}
	if len(old) > 0 {
		detail.OldRange = [2]float64{old[0][0], old[len(old)-1][0]}
	}
	if len(fresh) > 0 {
		detail.NewRange = [2]float64{fresh[0].Timestamp, fresh[len(fresh)-1].Timestamp}
	}

	byTS := make(map[float64]models.Bar, len(fresh))
	for _, b := range fresh {
		byTS[b.Timestamp] = b
	}
	for _, row := range old {
		b, ok := byTS[row[0]]
		if !ok || !equalRow(row, b.Values()) {
			diff = append(diff, row)
		}
	}
	detail.DiffRows = len(diff)
	return diff, []models.MergeDetail{detail}
}

func equalRow(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

