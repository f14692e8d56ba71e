package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"BarHarvest/internal/domain/models"
	pkgkafka "BarHarvest/pkg/kafka"
)

type fakePublisher struct {
	topic  string
	msgs   []pkgkafka.Message
	err    error
	closed bool
}

func (f *fakePublisher) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	f.topic = topic
	f.msgs = append(f.msgs, messages...)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	got    []models.Outcome
	err    error
	closed bool
}

func (r *recordingSink) Record(_ context.Context, outcomes []models.Outcome) error {
	r.got = append(r.got, outcomes...)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func sampleOutcomes() []models.Outcome {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []models.Outcome{
		{RunID: "run-1", Symbol: "NASDAQ:AAPL", Interval: "1D", Status: models.OutcomeWritten, Bars: 3, FirstTS: 1, LastTS: 3, At: at},
		{RunID: "run-1", Symbol: "NYSE:IBM", Interval: "60", Status: models.OutcomeEmpty, At: at},
	}
}

func TestKafkaOutcomeSinkKeysBySymbol(t *testing.T) {
	pub := &fakePublisher{}
	sink := &KafkaOutcomeSink{producer: pub, topic: "harvest.outcomes"}

	require.NoError(t, sink.Record(context.Background(), sampleOutcomes()))
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "harvest.outcomes", pub.topic)
	assert.Equal(t, "NASDAQ:AAPL", string(pub.msgs[0].Key))

	raw, err := json.Marshal(pub.msgs[1].Value)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"empty"`)

	require.NoError(t, sink.Record(context.Background(), nil))
	assert.Len(t, pub.msgs, 2, "empty batch publishes nothing")

	require.NoError(t, sink.Close())
	assert.True(t, pub.closed)
}

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSink{err: boom}
	good := &recordingSink{}
	m := NewMultiSink(bad, nil, good)
	assert.Equal(t, 2, m.Len())

	err := m.Record(context.Background(), sampleOutcomes())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.got, 2)

	assert.ErrorIs(t, m.Close(), boom)
	assert.True(t, good.closed)

	assert.NoError(t, NewMultiSink().Record(context.Background(), sampleOutcomes()))
}

func TestClickHouseLedgerInsertsRows(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE outcomes (at TIMESTAMP, run_id TEXT, symbol TEXT, bar_interval TEXT,
		status TEXT, bars INTEGER, first_ts REAL, last_ts REAL, message TEXT)`)
	require.NoError(t, err)

	l := newClickHouseLedger(db, "outcomes")
	outcomes := append(sampleOutcomes(), models.Outcome{Interval: "1D"})
	require.NoError(t, l.Record(context.Background(), outcomes))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&n))
	assert.Equal(t, 2, n, "rows without symbol are skipped")

	var status string
	var bars int
	require.NoError(t, db.QueryRow("SELECT status, bars FROM outcomes WHERE symbol = ?", "NASDAQ:AAPL").Scan(&status, &bars))
	assert.Equal(t, models.OutcomeWritten, status)
	assert.Equal(t, 3, bars)

	assert.Contains(t, l.SchemaStatements()[0], "MergeTree")
}

func TestParquetArchiveWritesBatch(t *testing.T) {
	root := t.TempDir()
	a := NewParquetArchive(root)
	bars := []models.Bar{
		{Timestamp: 100, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: 160, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	}

	path, err := a.Archive(models.NewPair("NASDAQ:AAPL", "1"), bars)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "NASDAQ:AAPL", "1", "100-160.parquet"), path)

	rows, err := parquet.ReadFile[parquetBar](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 160.0, rows[1].Timestamp)
	assert.Equal(t, 20.0, rows[1].Volume)

	path, err = a.Archive(models.NewPair("X", "1"), nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}
