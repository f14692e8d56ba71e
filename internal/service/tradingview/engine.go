package tradingview

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/pkg/logger"
	"BarHarvest/pkg/metrics"
)

var (
	ErrReceiveTimeout = errors.New("tradingview: receive timeout")
	ErrTimeoutAbort   = errors.New("tradingview: too many receive timeouts")
	ErrFatalProtocol  = errors.New("tradingview: fatal protocol error")
)

// Conn is a duplex text connection. Receive returns ErrReceiveTimeout when no message
// arrives within timeout; the connection stays usable afterwards.
type Conn interface {
	Send(msg string) error
	Receive(timeout time.Duration) (string, error)
	Close() error
}

type EngineConfig struct {
	MaxCS                  int
	MessageTimeout         time.Duration
	MaxBars                int
	MaxConsecutiveTimeouts int
	MaxTotalTimeouts       int
	Locale                 []string
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxCS <= 0 {
		c.MaxCS = 10
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 3 * time.Second
	}
	if c.MaxBars <= 0 {
		c.MaxBars = 50000
	}
	if c.MaxConsecutiveTimeouts <= 0 {
		c.MaxConsecutiveTimeouts = 3
	}
	if c.MaxTotalTimeouts <= 0 {
		c.MaxTotalTimeouts = 20
	}
	if len(c.Locale) != 2 {
		c.Locale = []string{"en", "US"}
	}
	return c
}

// Engine drives up to MaxCS chart sessions over one connection. It is single threaded:
// each inbound message, including the requests it triggers, is handled before the next
// one is read.
type Engine struct {
	conn    Conn
	cfg     EngineConfig
	log     *logger.Logger
	metrics repository.Metrics
	rng     *rand.Rand
}

func NewEngine(conn Conn, cfg EngineConfig, log *logger.Logger, m repository.Metrics) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Engine{
		conn:    conn,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

type run struct {
	pairs    []models.Pair
	sessions map[string]*ChartSession
	results  map[int]models.FetchResult
	next     int
	complete int
	step     int
}

// Run fetches every pair and returns one result per resolved pair, ordered as requested.
// On an abort the returned error wraps ErrTimeoutAbort or ErrFatalProtocol and the results
// hold only the pairs resolved before it.
func (e *Engine) Run(ctx context.Context, token string, pairs []models.Pair) ([]models.FetchResult, error) {
	if len(pairs) == 0 {
		e.log.Warn("empty pair list")
		return nil, nil
	}

	r := &run{
		pairs:    pairs,
		sessions: make(map[string]*ChartSession),
		results:  make(map[int]models.FetchResult, len(pairs)),
		step:     (len(pairs) + 19) / 20,
	}

	err := e.loop(ctx, token, r)
	return r.sorted(), err
}

func (e *Engine) loop(ctx context.Context, token string, r *run) error {
	if err := e.handshake(token); err != nil {
		return err
	}

	n := min(e.cfg.MaxCS, len(r.pairs))
	for i := 0; i < n; i++ {
		cs := newChartSession(NewSessionID(e.rng), i)
		r.sessions[cs.ID] = cs
		msgs, err := cs.openMessages()
		if err != nil {
			return err
		}
		if err := e.sendAll(msgs); err != nil {
			return err
		}
		if err := e.dispatch(cs, r); err != nil {
			return err
		}
	}

	timeouts, consecutive := 0, 0
	for r.complete < len(r.pairs) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := e.conn.Receive(e.cfg.MessageTimeout)
		if errors.Is(err, ErrReceiveTimeout) {
			timeouts++
			consecutive++
			e.metrics.RecordTimeout()
			e.log.Warn("receive timeout", logger.Int("consecutive", consecutive), logger.Int("total", timeouts))
			if consecutive >= e.cfg.MaxConsecutiveTimeouts || timeouts >= e.cfg.MaxTotalTimeouts {
				e.log.Error("aborting run on timeouts",
					logger.Int("consecutive", consecutive),
					logger.Int("total", timeouts),
					logger.Int("complete", r.complete),
					logger.Int("pairs", len(r.pairs)))
				return fmt.Errorf("%w: %d consecutive, %d total", ErrTimeoutAbort, consecutive, timeouts)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		consecutive = 0

		for _, f := range splitFrames(msg) {
			if isHeartbeat(f.payload) {
				if err := e.conn.Send(f.raw); err != nil {
					return fmt.Errorf("echo heartbeat: %w", err)
				}
				continue
			}
			if err := e.handlePayload(f.payload, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) handshake(token string) error {
	if token == "" {
		token = models.UnauthorizedToken
	}
	auth, err := EncodeMessage("set_auth_token", []any{token})
	if err != nil {
		return err
	}
	locale, err := EncodeMessage("set_locale", []any{e.cfg.Locale[0], e.cfg.Locale[1]})
	if err != nil {
		return err
	}
	return e.sendAll([]string{auth, locale})
}

func (e *Engine) sendAll(msgs []string) error {
	for _, m := range msgs {
		if err := e.conn.Send(m); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return nil
}

// dispatch issues the next pending pair on cs, if any remain.
func (e *Engine) dispatch(cs *ChartSession, r *run) error {
	if r.next >= len(r.pairs) {
		return nil
	}
	k := r.next
	msgs, err := cs.request(k, r.pairs[k], e.cfg.MaxBars)
	if err != nil {
		return err
	}
	r.next++
	return e.sendAll(msgs)
}

func (e *Engine) handlePayload(payload string, r *run) error {
	ev, ack, err := decodePayload(payload)
	if ack {
		return nil
	}
	if err != nil {
		e.log.Error("malformed payload", logger.String("payload", truncate(payload, 200)), logger.Error(err))
		return nil
	}

	id, _ := ev.SessionID()
	cs := r.sessions[id]

	switch ev.Kind {
	case EventFatalError:
		e.metrics.RecordProtocolError(ev.Name)
		e.log.Error("fatal protocol event",
			logger.String("event", ev.Name),
			logger.String("params", ev.Summary()),
			logger.String("pair", currentPair(cs)))
		return fmt.Errorf("%w: %s %s", ErrFatalProtocol, ev.Name, ev.Summary())
	case EventUnknown:
		e.log.Warn("unknown event", logger.String("event", ev.Name), logger.String("params", ev.Summary()))
		return nil
	case EventInfo:
		return nil
	}

	if cs == nil {
		e.log.Warn("event for unknown session", logger.String("event", ev.Name), logger.String("session", id))
		return nil
	}
	if ref, ok := ev.RequestRef(); ok && cs.Busy() && !cs.current.owns(ref) {
		e.log.Debug("event for a finished request",
			logger.String("event", ev.Name),
			logger.String("ref", ref),
			logger.String("pair", currentPair(cs)))
		return nil
	}

	switch ev.Kind {
	case EventSymbolResolved:
		e.checkFrequency(cs, ev)
	case EventTimescaleUpdate:
		if !cs.Busy() || len(ev.Params) < 2 {
			return nil
		}
		series, ok, err := seriesBars(ev.Params[1], cs.seriesKey())
		if err != nil {
			e.log.Warn("bad timescale_update", logger.String("pair", currentPair(cs)), logger.Error(err))
			return nil
		}
		if !ok || (series.T != "" && !cs.current.owns(series.T)) {
			return nil
		}
		cs.addBars(series.S)
	case EventSeriesCompleted:
		if !cs.Busy() {
			return nil
		}
		status := models.FetchError
		if len(cs.current.bars) > 0 {
			status = models.FetchOK
		}
		return e.complete(cs, status, ev, r)
	case EventPairError:
		e.metrics.RecordProtocolError(ev.Name)
		e.log.Error("pair error", logger.String("event", ev.Name), logger.String("params", ev.Summary()), logger.String("pair", currentPair(cs)))
		if !cs.Busy() {
			return nil
		}
		return e.complete(cs, models.FetchError, ev, r)
	}
	return nil
}

func (e *Engine) complete(cs *ChartSession, status string, ev Event, r *run) error {
	idx, res := cs.finish(status, ev)
	r.results[idx] = res
	r.complete++
	if r.complete%r.step == 0 || r.complete == len(r.pairs) {
		e.log.Info("progress", logger.Int("complete", r.complete), logger.Int("pairs", len(r.pairs)))
	}
	return e.dispatch(cs, r)
}

func (e *Engine) checkFrequency(cs *ChartSession, ev Event) {
	if !cs.Busy() {
		return
	}
	freq := dataFrequency(ev.Params)
	if freq == "" {
		return
	}
	cmp, err := models.CompareInterval(freq, cs.current.pair.Interval)
	if err != nil {
		e.log.Debug("uncomparable data frequency", logger.String("data_frequency", freq), logger.Error(err))
		return
	}
	if cmp > 0 {
		e.log.Warn("interval finer than native data",
			logger.String("pair", cs.current.pair.String()),
			logger.String("data_frequency", freq))
	}
}

func (r *run) sorted() []models.FetchResult {
	idx := make([]int, 0, len(r.results))
	for k := range r.results {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	out := make([]models.FetchResult, 0, len(idx))
	for _, k := range idx {
		out = append(out, r.results[k])
	}
	return out
}

func currentPair(cs *ChartSession) string {
	if cs == nil || cs.current == nil {
		return ""
	}
	return cs.current.pair.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
