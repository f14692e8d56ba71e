package tradingview

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"BarHarvest/internal/domain/models"
)

type EventKind int

const (
	EventUnknown EventKind = iota
	EventInfo
	EventSymbolResolved
	EventTimescaleUpdate
	EventSeriesCompleted
	EventPairError
	EventFatalError
)

func (k EventKind) String() string {
	switch k {
	case EventInfo:
		return "info"
	case EventSymbolResolved:
		return "symbol_resolved"
	case EventTimescaleUpdate:
		return "timescale_update"
	case EventSeriesCompleted:
		return "series_completed"
	case EventPairError:
		return "pair_error"
	case EventFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// eventKinds maps inbound event names to how the engine treats them.
var eventKinds = map[string]EventKind{
	"series_loading":   EventInfo,
	"series_timeframe": EventInfo,
	"study_loading":    EventInfo,
	"study_completed":  EventInfo,
	"du":               EventInfo,
	"quote_completed":  EventInfo,
	"qsd":              EventInfo,
	"symbol_resolved":  EventSymbolResolved,
	"timescale_update": EventTimescaleUpdate,
	"series_completed": EventSeriesCompleted,
	"symbol_error":     EventPairError,
	"series_error":     EventPairError,
	"critical_error":   EventFatalError,
	"protocol_error":   EventFatalError,
}

func ClassifyEvent(name string) EventKind {
	if k, ok := eventKinds[name]; ok {
		return k
	}
	return EventUnknown
}

var errNotEvent = errors.New("payload is neither an event nor a session ack")

// Event is one decoded {"m":..., "p":[...]} payload.
type Event struct {
	Name   string
	Kind   EventKind
	Params []json.RawMessage
	raw    string
}

// SessionID returns the chart session the event is addressed to, if any.
func (e Event) SessionID() (string, bool) {
	if len(e.Params) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(e.Params[0], &id); err != nil {
		return "", false
	}
	return id, true
}

var seriesIDPattern = regexp.MustCompile(`^s\d+$`)

// RequestRef returns the first series id ("s<n>") or symbol ref ("sds_sym_<n>") among the
// params after the session id.
func (e Event) RequestRef() (string, bool) {
	for i := 1; i < len(e.Params); i++ {
		var v string
		if err := json.Unmarshal(e.Params[i], &v); err != nil {
			continue
		}
		if seriesIDPattern.MatchString(v) || strings.HasPrefix(v, "sds_sym_") {
			return v, true
		}
	}
	return "", false
}

// Summary is the params JSON cut to 100 bytes, kept on diagnostics.
func (e Event) Summary() string {
	const limit = 100
	if len(e.raw) > limit {
		return e.raw[:limit]
	}
	return e.raw
}

type envelope struct {
	SessionID *string           `json:"session_id"`
	M         *string           `json:"m"`
	P         []json.RawMessage `json:"p"`
}

// decodePayload decodes one frame payload. ack is true for the server's session greeting.
func decodePayload(payload string) (ev Event, ack bool, err error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Event{}, false, fmt.Errorf("decode payload: %w", err)
	}
	if env.SessionID != nil {
		return Event{}, true, nil
	}
	if env.M == nil || env.P == nil {
		return Event{}, false, errNotEvent
	}
	raw, _ := json.Marshal(env.P)
	return Event{Name: *env.M, Kind: ClassifyEvent(*env.M), Params: env.P, raw: string(raw)}, false, nil
}

type timescaleSeries struct {
	Node json.RawMessage `json:"node"`
	S    []models.RawBar `json:"s"`
	T    string          `json:"t"`
}

// seriesBars extracts the data node for seriesKey from a timescale_update's second param.
// ok is false when the update carries no data node for that series.
func seriesBars(param json.RawMessage, seriesKey string) (timescaleSeries, bool, error) {
	var bySeries map[string]json.RawMessage
	if err := json.Unmarshal(param, &bySeries); err != nil {
		return timescaleSeries{}, false, fmt.Errorf("decode timescale_update: %w", err)
	}
	body, ok := bySeries[seriesKey]
	if !ok {
		return timescaleSeries{}, false, nil
	}
	var s timescaleSeries
	if err := json.Unmarshal(body, &s); err != nil {
		return timescaleSeries{}, false, fmt.Errorf("decode series %s: %w", seriesKey, err)
	}
	if s.Node == nil {
		return timescaleSeries{}, false, nil
	}
	return s, true, nil
}

// dataFrequency reads symbol_resolved's third param.
func dataFrequency(params []json.RawMessage) string {
	if len(params) < 3 {
		return ""
	}
	var info struct {
		DataFrequency string `json:"data_frequency"`
	}
	if err := json.Unmarshal(params[2], &info); err != nil {
		return ""
	}
	return info.DataFrequency
}
