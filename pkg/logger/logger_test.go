package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFileOutputExpandsDate(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{Level: "info", Format: "json", Output: filepath.Join(dir, "harvest-{date}.info.log")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := filepath.Join(dir, "harvest-"+time.Now().Format("20060102")+".info.log")
	if l.Path() != want {
		t.Fatalf("path %q, want %q", l.Path(), want)
	}

	l.With(String("component", "test")).Info("hello", Int("n", 3))
	if err := l.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	l.Info("after rotate")

	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"component":"test"`) || !strings.Contains(out, `"n":3`) {
		t.Fatalf("missing fields in %s", out)
	}
	if !strings.Contains(out, "after rotate") {
		t.Fatalf("rotated writer lost output: %s", out)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatalf("expected error")
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicates(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 5; i++ {
		c.AddLog("error", "write failed", map[string]interface{}{"pair": "(A,1D)"}, "x.go:1")
	}
	c.AddLog("error", "write failed", map[string]interface{}{"pair": "(B,1D)"}, "x.go:1")
	if c.Pending() != 2 {
		t.Fatalf("pending %d, want 2", c.Pending())
	}
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("unexpected batches %+v", pub.batches)
	}
	total := 0
	for _, e := range pub.batches[0] {
		total += e.Count
	}
	if total != 6 {
		t.Fatalf("count %d, want 6", total)
	}
}

func TestFieldsRenderTyped(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}
	l.With(Bool("pro", true)).Info("bars",
		String("pair", "(A,1D)"), Int("n", 2), Float64("ratio", 0.5),
		Duration("took", 1500*time.Millisecond), Error(nil), Any("tags", []string{"x"}))

	out := buf.String()
	for _, want := range []string{`"pro":true`, `"pair":"(A,1D)"`, `"n":2`, `"ratio":0.5`, `"took":1500`, `"tags":["x"]`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"error"`) {
		t.Fatalf("nil error should be omitted: %s", out)
	}
}

func TestErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := &Logger{zl: zerolog.Nop()}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})
	child := l.With(String("component", "sink"))

	child.Error("publish failed", Error(errors.New("broker down")))
	child.Warn("not collected")
	if l.collector.Pending() != 1 {
		t.Fatalf("pending %d, want 1", l.collector.Pending())
	}
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.batches[0][0].Fields["error"] != "broker down" {
		t.Fatalf("unexpected batches %+v", pub.batches)
	}
	if !strings.HasPrefix(pub.batches[0][0].Caller, "logger/logger_test.go:") {
		t.Fatalf("caller %q", pub.batches[0][0].Caller)
	}
}
