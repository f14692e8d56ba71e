package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordPairResult("1D", "written")
	r.RecordPairResult("1D", "written")
	r.RecordBarsWritten("1D", 500)
	r.RecordTimeout()
	r.SetQueueSizes(3, 2, 1)

	if got := testutil.ToFloat64(r.pairResults.WithLabelValues("1D", "written")); got != 2 {
		t.Fatalf("pairs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.barsWritten.WithLabelValues("1D")); got != 500 {
		t.Fatalf("bars = %v, want 500", got)
	}
	if got := testutil.ToFloat64(r.timeouts); got != 1 {
		t.Fatalf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.queueSize.WithLabelValues("waiting")); got != 2 {
		t.Fatalf("waiting = %v, want 2", got)
	}
}
