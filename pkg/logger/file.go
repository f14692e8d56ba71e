package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// dateToken in an output path is replaced by the current day on every reopen.
const dateToken = "{date}"

// fileSink appends to a file and can swap it for a freshly dated one. Children share it.
type fileSink struct {
	mu      sync.Mutex
	pattern string
	path    string
	f       *os.File
	now     func() time.Time
}

func openFileSink(pattern string) (*fileSink, error) {
	s := &fileSink{pattern: pattern, now: time.Now}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Write(p)
}

func (s *fileSink) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *fileSink) reopen() error {
	path := strings.ReplaceAll(s.pattern, dateToken, s.now().Format("20060102"))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	s.mu.Lock()
	prev := s.f
	s.f, s.path = f, path
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}
