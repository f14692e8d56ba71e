package tradingview

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BarHarvest/internal/domain/models"
)

func testPairs(n int) []models.Pair {
	pairs := make([]models.Pair, n)
	for i := range pairs {
		pairs[i] = models.NewPair(fmt.Sprintf("EX:S%02d", i), "1D")
	}
	return pairs
}

func TestEncodeMessage(t *testing.T) {
	got, err := EncodeMessage("set_locale", []any{"en", "US"})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	want := `~m~34~m~{"m":"set_locale","p":["en","US"]}`
	if got != want {
		t.Fatalf("EncodeMessage = %q, want %q", got, want)
	}

	got, _ = EncodeMessage("resolve_symbol", []any{"cs_x", "sds_sym_0", `={"symbol":"A&B"}`})
	if !regexp.MustCompile(`A&B`).MatchString(got) {
		t.Fatalf("html escaped: %q", got)
	}
}

func TestSplitFramesAndHeartbeat(t *testing.T) {
	msg := EncodeFrame(`{"a":1}`) + EncodeFrame(`{"b":2}`)
	parts := SplitFrames(msg)
	if len(parts) != 2 || parts[0] != `{"a":1}` || parts[1] != `{"b":2}` {
		t.Fatalf("SplitFrames = %q", parts)
	}
	if !isHeartbeat("~h~12") {
		t.Fatal("heartbeat not detected")
	}
	if isHeartbeat(`{"m":"~h~1"}`) {
		t.Fatal("event treated as heartbeat")
	}

	frames := splitFrames(EncodeFrame(`{"a":1}`) + "~m~5~m~~h~42")
	require.Len(t, frames, 2)
	assert.Equal(t, "~m~5~m~~h~42", frames[1].raw)
	assert.True(t, isHeartbeat(frames[1].payload))
}

func TestSplitFramesUsesDeclaredLength(t *testing.T) {
	inner := `{"m":"du","p":["cs_x","~m~3~m~abc"]}`
	parts := SplitFrames(EncodeFrame(inner) + EncodeFrame(`{"b":2}`))
	assert.Equal(t, []string{inner, `{"b":2}`}, parts)

	// Server lengths count code points.
	parts = SplitFrames(`~m~9~m~{"a":"é"}~m~7~m~{"b":2}`)
	assert.Equal(t, []string{`{"a":"é"}`, `{"b":2}`}, parts)

	// A length that fits nothing falls back to the next header.
	parts = SplitFrames(`~m~2~m~{"a":1}~m~7~m~{"b":2}`)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, parts)

	assert.Empty(t, SplitFrames("no frames here"))
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID(rand.New(rand.NewPCG(1, 2)))
	if !regexp.MustCompile(`^cs_[a-z]{12}$`).MatchString(id) {
		t.Fatalf("session id %q", id)
	}
}

func TestEngineMultiplexesOverSessions(t *testing.T) {
	srv := newFakeServer()
	e := NewEngine(srv, EngineConfig{MaxCS: 10}, nil, nil)
	pairs := testPairs(12)

	results, err := e.Run(context.Background(), "", pairs)
	require.NoError(t, err)
	require.Len(t, results, 12)

	seen := map[models.Pair]bool{}
	for i, r := range results {
		assert.Equal(t, pairs[i], r.Pair)
		assert.False(t, seen[r.Pair], "duplicate %s", r.Pair)
		seen[r.Pair] = true
		assert.Equal(t, models.FetchOK, r.Detail.Status)
		assert.Equal(t, "series_completed", r.Detail.Event)
		require.Len(t, r.Bars, 2)
		assert.Equal(t, 0, r.Bars[0].Index)
		assert.Equal(t, float64(1000+i*10), r.Bars[0].Values[0])
	}

	assert.Len(t, srv.methods("chart_create_session"), 10)
	assert.Len(t, srv.methods("switch_timezone"), 10)
	creates := srv.methods("create_series")
	modifies := srv.methods("modify_series")
	require.Len(t, creates, 10)
	require.Len(t, modifies, 2)

	// The first sessions to finish carry pairs 10 and 11 with a bumped series index and
	// no max bars argument.
	assert.Equal(t, stringParam(creates[0], 0), stringParam(modifies[0], 0))
	assert.Equal(t, stringParam(creates[1], 0), stringParam(modifies[1], 0))
	assert.Equal(t, "s1", stringParam(modifies[0], 2))
	assert.Equal(t, "sds_sym_10", stringParam(modifies[0], 3))
	assert.Len(t, modifies[0].Params, 6)
	assert.Len(t, creates[0].Params, 7)

	auth := srv.methods("set_auth_token")
	require.Len(t, auth, 1)
	assert.Equal(t, models.UnauthorizedToken, stringParam(auth[0], 0))
}

func TestEngineEchoesHeartbeat(t *testing.T) {
	srv := newFakeServer()
	srv.push("~m~5~m~~h~42")
	e := NewEngine(srv, EngineConfig{}, nil, nil)

	results, err := e.Run(context.Background(), "token", testPairs(1))
	require.NoError(t, err)
	require.Len(t, results, 1)

	var echoed bool
	for _, m := range srv.sent {
		if m.Raw == "~m~5~m~~h~42" {
			echoed = true
		}
	}
	assert.True(t, echoed)
	assert.Equal(t, "token", stringParam(srv.methods("set_auth_token")[0], 0))
}

func TestEngineEchoesHeartbeatInsideBatch(t *testing.T) {
	srv := newFakeServer()
	srv.push(EncodeFrame(`{"m":"du","p":["cs_x",{}]}`) + "~m~5~m~~h~42" + EncodeFrame(`{"m":"qsd","p":["cs_x"]}`))

	results, err := NewEngine(srv, EngineConfig{}, nil, nil).Run(context.Background(), "", testPairs(1))
	require.NoError(t, err)
	require.Len(t, results, 1)

	var echoed int
	for _, m := range srv.sent {
		if m.Raw == "~m~5~m~~h~42" {
			echoed++
		}
	}
	assert.Equal(t, 1, echoed)
	assert.Equal(t, models.FetchOK, results[0].Detail.Status)
}

func TestEngineSymbolErrorIsPerPair(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(r seriesRequest) []string {
		if r.symbol == "EX:S01" {
			return []string{fmt.Sprintf(`{"m":"symbol_error","p":[%q,"sds_sym_%d","invalid symbol"]}`, r.session, r.k)}
		}
		return barsReply(r)
	}
	e := NewEngine(srv, EngineConfig{MaxCS: 2}, nil, nil)

	results, err := e.Run(context.Background(), "", testPairs(3))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[1].Empty())
	assert.Equal(t, models.FetchError, results[1].Detail.Status)
	assert.Equal(t, "symbol_error", results[1].Detail.Event)
	assert.False(t, results[2].Empty())
}

func TestEngineCompletionWithoutBarsIsError(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(r seriesRequest) []string {
		return []string{
			fmt.Sprintf(`{"m":"timescale_update","p":[%q,{%q:{"s":[]}}]}`, r.session, r.key),
			fmt.Sprintf(`{"m":"series_completed","p":[%q,%q,%q]}`, r.session, r.key, r.series),
		}
	}
	results, err := NewEngine(srv, EngineConfig{}, nil, nil).Run(context.Background(), "", testPairs(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Empty())
	assert.Equal(t, models.FetchError, results[0].Detail.Status)
}

func TestEngineFatalErrorAbortsRun(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(r seriesRequest) []string {
		if r.k == 2 {
			return []string{fmt.Sprintf(`{"m":"critical_error","p":[%q,"boom"]}`, r.session)}
		}
		return barsReply(r)
	}
	e := NewEngine(srv, EngineConfig{MaxCS: 1}, nil, nil)

	results, err := e.Run(context.Background(), "", testPairs(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatalProtocol))
	require.Len(t, results, 2)
	assert.Equal(t, "EX:S00", results[0].Pair.Symbol)
	assert.Equal(t, "EX:S01", results[1].Pair.Symbol)
}

func TestEngineAbortsOnConsecutiveTimeouts(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(seriesRequest) []string { return nil }

	results, err := NewEngine(srv, EngineConfig{MaxCS: 2}, nil, nil).Run(context.Background(), "", testPairs(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeoutAbort))
	assert.Empty(t, results)
	assert.Equal(t, 3, srv.receives)
}

func TestEngineAbortsOnTotalTimeouts(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(seriesRequest) []string { return nil }
	for i := 0; i < 10; i++ {
		srv.queue = append(srv.queue, EncodeFrame(`{"m":"du","p":["cs_x",{}]}`))
	}
	e := NewEngine(srv, EngineConfig{MaxConsecutiveTimeouts: 100, MaxTotalTimeouts: 1}, nil, nil)

	_, err := e.Run(context.Background(), "", testPairs(1))
	assert.True(t, errors.Is(err, ErrTimeoutAbort))
	assert.Equal(t, 11, srv.receives)
}

func TestEngineSkipsMalformedAndUnknown(t *testing.T) {
	srv := newFakeServer()
	srv.push(EncodeFrame(`{not json`) + EncodeFrame(`{"m":"brand_new_event","p":["cs_x"]}`) + EncodeFrame(`{"session_id":"abc","timestamp":1}`))
	srv.push(EncodeFrame(`{"m":"series_completed","p":["cs_unknown","sds_0"]}`))

	results, err := NewEngine(srv, EngineConfig{}, nil, nil).Run(context.Background(), "", testPairs(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.FetchOK, results[0].Detail.Status)
}

func TestEngineEmptyPairs(t *testing.T) {
	srv := newFakeServer()
	results, err := NewEngine(srv, EngineConfig{}, nil, nil).Run(context.Background(), "", nil)
	assert.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, srv.sent)
}

func TestEngineIgnoresRepliesToFinishedRequest(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(r seriesRequest) []string {
		if r.symbol == "EX:S00" {
			return []string{
				fmt.Sprintf(`{"m":"symbol_error","p":[%q,"sds_sym_%d","invalid symbol"]}`, r.session, r.k),
				fmt.Sprintf(`{"m":"series_error","p":[%q,%q,%q,"resolve error"]}`, r.session, r.key, r.series),
			}
		}
		return barsReply(r)
	}
	e := NewEngine(srv, EngineConfig{MaxCS: 1}, nil, nil)

	results, err := e.Run(context.Background(), "", testPairs(3))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.FetchError, results[0].Detail.Status)
	assert.Equal(t, "symbol_error", results[0].Detail.Event)
	for i := 1; i < 3; i++ {
		r := results[i]
		assert.Equal(t, fmt.Sprintf("EX:S%02d", i), r.Pair.Symbol)
		assert.Equal(t, models.FetchOK, r.Detail.Status, r.Pair.String())
		require.Len(t, r.Bars, 2)
		assert.Equal(t, float64(1000+i*10), r.Bars[0].Values[0])
	}
}

func TestEngineDropsBarsForOtherSeries(t *testing.T) {
	srv := newFakeServer()
	srv.reply = func(r seriesRequest) []string {
		return append([]string{
			fmt.Sprintf(`{"m":"timescale_update","p":[%q,{%q:{"node":"n","s":[{"i":0,"v":[1,1,1,1,1,1]}],"t":"s99"}}]}`, r.session, r.key),
		}, barsReply(r)...)
	}

	results, err := NewEngine(srv, EngineConfig{}, nil, nil).Run(context.Background(), "", testPairs(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Bars, 2)
	assert.Equal(t, float64(1000), results[0].Bars[0].Values[0])
}
