package tradingview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type DialerConfig struct {
	URL         string
	Origin      string
	DialTimeout time.Duration
}

// Dialer opens websocket connections to the quote service.
type Dialer struct {
	cfg DialerConfig
	ws  *websocket.Dialer
}

func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  cfg.DialTimeout,
			EnableCompression: true,
		},
	}
}

// Dial connects and starts the connection's read loop.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	h := http.Header{}
	if d.cfg.Origin != "" {
		h.Set("Origin", d.cfg.Origin)
	}
	c, _, err := d.ws.DialContext(ctx, d.cfg.URL, h)
	if err != nil {
		return nil, fmt.Errorf("tradingview connect: %w", err)
	}
	return newWSConn(c), nil
}

type inbound struct {
	msg string
	err error
}

// wsConn reads in a background goroutine so a receive timeout never touches the socket;
// gorilla connections are unusable after a read deadline expires.
type wsConn struct {
	conn *websocket.Conn
	in   chan inbound
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(c *websocket.Conn) *wsConn {
	w := &wsConn{
		conn: c,
		in:   make(chan inbound, 64),
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *wsConn) readLoop() {
	defer close(w.in)
	for {
		_, b, err := w.conn.ReadMessage()
		select {
		case w.in <- inbound{msg: string(b), err: err}:
		case <-w.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *wsConn) Send(msg string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (w *wsConn) Receive(timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case in, ok := <-w.in:
		if !ok {
			return "", errors.New("tradingview: connection closed")
		}
		if in.err != nil {
			return "", fmt.Errorf("tradingview read: %w", in.err)
		}
		return in.msg, nil
	case <-t.C:
		return "", ErrReceiveTimeout
	}
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}
