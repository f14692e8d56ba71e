package tradingview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var (
	frameHeader = regexp.MustCompile(`~m~(\d+)~m~`)
	heartbeat   = regexp.MustCompile(`^~h~\d+$`)
)

type frame struct {
	raw     string
	payload string
}

// EncodeFrame wraps payload as ~m~<byte length>~m~<payload>.
func EncodeFrame(payload string) string {
	return fmt.Sprintf("~m~%d~m~%s", len(payload), payload)
}

// EncodeMessage builds a framed {"m":method,"p":params} message in compact JSON.
func EncodeMessage(method string, params []any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		M string `json:"m"`
		P []any  `json:"p"`
	}{method, params}); err != nil {
		return "", fmt.Errorf("encode %s: %w", method, err)
	}
	return EncodeFrame(string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))), nil
}

// SplitFrames returns the payloads of every frame concatenated in msg.
func SplitFrames(msg string) []string {
	frames := splitFrames(msg)
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.payload
	}
	return out
}

// splitFrames slices msg by each frame's declared length. Text before the first header is
// dropped.
func splitFrames(msg string) []frame {
	var out []frame
	for {
		loc := frameHeader.FindStringSubmatchIndex(msg)
		if loc == nil {
			return out
		}
		n, err := strconv.Atoi(msg[loc[2]:loc[3]])
		body := msg[loc[1]:]
		end := frameEnd(body, n, err == nil)
		out = append(out, frame{raw: msg[loc[0] : loc[1]+end], payload: body[:end]})
		msg = body[end:]
	}
}

// frameEnd finds where a payload declared n long ends. Frames built here count bytes and the
// server counts code points; a length that fits neither falls back to the next header.
func frameEnd(body string, n int, ok bool) int {
	if ok {
		if n <= len(body) && atFrameBoundary(body[n:]) {
			return n
		}
		if i := runeOffset(body, n); i >= 0 && atFrameBoundary(body[i:]) {
			return i
		}
	}
	if loc := frameHeader.FindStringIndex(body); loc != nil {
		return loc[0]
	}
	return len(body)
}

func atFrameBoundary(rest string) bool {
	if rest == "" {
		return true
	}
	loc := frameHeader.FindStringIndex(rest)
	return loc != nil && loc[0] == 0
}

func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	if count == n {
		return len(s)
	}
	return -1
}

// isHeartbeat reports whether a frame payload is a keepalive that must be echoed back.
func isHeartbeat(payload string) bool {
	return heartbeat.MatchString(payload)
}
