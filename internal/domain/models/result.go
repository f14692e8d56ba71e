package models

import "time"

const (
	FetchOK    = "ok"
	FetchError = "error"
)

// Diagnostic describes how a pair's request ended on the wire.
type Diagnostic struct {
	Status  string `json:"status"`
	Event   string `json:"m"`
	Payload string `json:"p"`
}

// FetchResult is the single outcome the protocol engine records per requested pair.
// Bars is nil when the server answered without data.
type FetchResult struct {
	Pair   Pair       `json:"pair"`
	Bars   []RawBar   `json:"bars,omitempty"`
	Detail Diagnostic `json:"detail"`
}

func (r FetchResult) Empty() bool { return len(r.Bars) == 0 }

// Outcome statuses reported by the harvester.
const (
	OutcomeWritten     = "written"
	OutcomeWarning     = "warning"
	OutcomeEmpty       = "empty"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "failed"
)

// Outcome is what the harvester did with one fetch result.
type Outcome struct {
	RunID    string    `json:"run_id"`
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Status   string    `json:"status"`
	Bars     int       `json:"bars"`
	FirstTS  float64   `json:"first_ts,omitempty"`
	LastTS   float64   `json:"last_ts,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}
