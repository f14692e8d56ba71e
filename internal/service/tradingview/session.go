package tradingview

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"

	"BarHarvest/internal/domain/models"
)

const sessionIDLetters = "abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns "cs_" followed by 12 random lowercase letters.
func NewSessionID(r *rand.Rand) string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = sessionIDLetters[r.IntN(len(sessionIDLetters))]
	}
	return "cs_" + string(b)
}

type pendingRequest struct {
	index     int
	pair      models.Pair
	seriesID  string
	symbolRef string
	bars      map[int]models.RawBar
}

// owns reports whether ref names this request's series or symbol. Replies to a series the
// session has since moved past carry the old refs.
func (r *pendingRequest) owns(ref string) bool {
	return ref == r.seriesID || ref == r.symbolRef
}

// ChartSession is one multiplexed chart on the connection. It serves one pair at a time;
// the first pair creates the series and later pairs modify it in place.
type ChartSession struct {
	ID        string
	ChartIdx  int
	seriesIdx int
	current   *pendingRequest
}

func newChartSession(id string, chartIdx int) *ChartSession {
	return &ChartSession{ID: id, ChartIdx: chartIdx}
}

func (s *ChartSession) Busy() bool { return s.current != nil }

func (s *ChartSession) seriesKey() string {
	return fmt.Sprintf("sds_%d", s.ChartIdx)
}

func (s *ChartSession) openMessages() ([]string, error) {
	create, err := EncodeMessage("chart_create_session", []any{s.ID, ""})
	if err != nil {
		return nil, err
	}
	tz, err := EncodeMessage("switch_timezone", []any{s.ID, "Etc/UTC"})
	if err != nil {
		return nil, err
	}
	return []string{create, tz}, nil
}

// request binds pair (the k-th of the run) to the session and returns the resolve and
// series messages for it.
func (s *ChartSession) request(k int, pair models.Pair, maxBars int) ([]string, error) {
	symbolRef := fmt.Sprintf("sds_sym_%d", k)

	desc, err := json.Marshal(struct {
		Symbol     string `json:"symbol"`
		Adjustment string `json:"adjustment"`
		Session    string `json:"session"`
	}{pair.Symbol, "splits", "extended"})
	if err != nil {
		return nil, err
	}
	resolve, err := EncodeMessage("resolve_symbol", []any{s.ID, symbolRef, "=" + string(desc)})
	if err != nil {
		return nil, err
	}

	seriesID := fmt.Sprintf("s%d", s.seriesIdx)
	method := "create_series"
	params := []any{s.ID, s.seriesKey(), seriesID, symbolRef, pair.Interval, maxBars, ""}
	if s.seriesIdx > 0 {
		method = "modify_series"
		params = append(params[:5], "")
	}
	series, err := EncodeMessage(method, params)
	if err != nil {
		return nil, err
	}

	s.seriesIdx++
	s.current = &pendingRequest{
		index:     k,
		pair:      pair,
		seriesID:  seriesID,
		symbolRef: symbolRef,
		bars:      make(map[int]models.RawBar),
	}
	return []string{resolve, series}, nil
}

func (s *ChartSession) addBars(bars []models.RawBar) {
	if s.current == nil {
		return
	}
	for _, b := range bars {
		s.current.bars[b.Index] = b
	}
}

// finish records the in-flight pair's result and frees the session.
func (s *ChartSession) finish(status string, ev Event) (int, models.FetchResult) {
	req := s.current
	s.current = nil

	res := models.FetchResult{
		Pair:   req.pair,
		Detail: models.Diagnostic{Status: status, Event: ev.Name, Payload: ev.Summary()},
	}
	if status == models.FetchOK && len(req.bars) > 0 {
		res.Bars = make([]models.RawBar, 0, len(req.bars))
		for _, b := range req.bars {
			res.Bars = append(res.Bars, b)
		}
		sort.Slice(res.Bars, func(i, j int) bool { return res.Bars[i].Index < res.Bars[j].Index })
	}
	return req.index, res
}
