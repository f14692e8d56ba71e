package util

import (
	"math"
	"testing"
	"time"
)

func TestUnixFloat(t *testing.T) {
	got := UnixFloat(1700000000.5)
	want := time.Date(2023, 11, 14, 22, 13, 20, 500_000_000, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestFormatUnix(t *testing.T) {
	if got := FormatUnix(0); got != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatUnix(math.Inf(1)); got != "+Inf" {
		t.Fatalf("unexpected %q", got)
	}
}
