package tradingview

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type sentMessage struct {
	Method string
	Params []json.RawMessage
	Raw    string
}

// seriesRequest is what the fake saw in a create_series or modify_series call.
type seriesRequest struct {
	session string
	key     string
	series  string
	symbol  string
	k       int
}

// fakeServer answers series requests from a script instead of the network.
type fakeServer struct {
	mu      sync.Mutex
	sent    []sentMessage
	queue   []string
	symbols map[string]string

	// reply builds the frames answering a series request. nil means one bar then completion.
	reply func(req seriesRequest) []string

	receives int
	closed   bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{symbols: make(map[string]string)}
}

func (f *fakeServer) Send(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payloads := SplitFrames(msg)
	if len(payloads) != 1 {
		f.sent = append(f.sent, sentMessage{Raw: msg})
		return nil
	}
	var env struct {
		M string            `json:"m"`
		P []json.RawMessage `json:"p"`
	}
	if err := json.Unmarshal([]byte(payloads[0]), &env); err != nil {
		f.sent = append(f.sent, sentMessage{Raw: msg})
		return nil
	}
	f.sent = append(f.sent, sentMessage{Method: env.M, Params: env.P, Raw: msg})

	switch env.M {
	case "resolve_symbol":
		var ref, desc string
		json.Unmarshal(env.P[1], &ref)
		json.Unmarshal(env.P[2], &desc)
		var s struct {
			Symbol string `json:"symbol"`
		}
		json.Unmarshal([]byte(strings.TrimPrefix(desc, "=")), &s)
		f.symbols[ref] = s.Symbol
	case "create_series", "modify_series":
		var req seriesRequest
		var ref string
		json.Unmarshal(env.P[0], &req.session)
		json.Unmarshal(env.P[1], &req.key)
		json.Unmarshal(env.P[2], &req.series)
		json.Unmarshal(env.P[3], &ref)
		fmt.Sscanf(ref, "sds_sym_%d", &req.k)
		req.symbol = f.symbols[ref]

		reply := f.reply
		if reply == nil {
			reply = barsReply
		}
		frames := reply(req)
		if len(frames) > 0 {
			var b strings.Builder
			for _, fr := range frames {
				b.WriteString(EncodeFrame(fr))
			}
			f.queue = append(f.queue, b.String())
		}
	}
	return nil
}

func (f *fakeServer) push(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, raw)
}

func (f *fakeServer) Receive(time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receives++
	if len(f.queue) == 0 {
		return "", ErrReceiveTimeout
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeServer) methods(name string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Method == name {
			out = append(out, m)
		}
	}
	return out
}

func barsReply(r seriesRequest) []string {
	return []string{
		fmt.Sprintf(`{"m":"series_loading","p":[%q,%q,%q]}`, r.session, r.key, r.series),
		fmt.Sprintf(`{"m":"timescale_update","p":[%q,{%q:{"node":"n","s":[{"i":1,"v":[%d,2,3,1,2,10]},{"i":0,"v":[%d,1,2,0.5,1,5]}],"t":%q}}]}`,
			r.session, r.key, 1000+r.k*10+1, 1000+r.k*10, r.series),
		fmt.Sprintf(`{"m":"series_completed","p":[%q,%q,"streaming",%q]}`, r.session, r.key, r.series),
	}
}

func stringParam(m sentMessage, i int) string {
	var s string
	json.Unmarshal(m.Params[i], &s)
	return s
}
