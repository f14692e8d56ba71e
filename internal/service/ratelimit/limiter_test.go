package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewWithClock(func() time.Time { return now })

	if !l.Allow("signin:alice", 1, 0.1) {
		t.Fatal("first attempt should pass")
	}
	if l.Allow("signin:alice", 1, 0.1) {
		t.Fatal("second attempt should be throttled")
	}
	if !l.Allow("signin:bob", 1, 0.1) {
		t.Fatal("buckets must be per key")
	}

	now = now.Add(10 * time.Second)
	if !l.Allow("signin:alice", 1, 0.1) {
		t.Fatal("bucket should refill after 10s")
	}

	l.Reset("signin:alice")
	if !l.Allow("signin:alice", 1, 0.1) {
		t.Fatal("reset bucket should start full")
	}
}
