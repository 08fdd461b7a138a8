package event

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gitswarm/gitswarm/internal/logging"
)

// FileSink appends every published event to a JSON-lines log file, one
// object per line:
//
//	{"type":"task.completed","time":"...","event":{...}}
//
// Write failures are logged and swallowed: the event log is an audit
// trail, not a dependency of sprint execution.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *logging.Logger
	cancel func()
}

// logEntry is the on-disk envelope for one event.
type logEntry struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Event Event     `json:"event"`
}

// NewFileSink opens (or creates) an append-only event log at path and
// subscribes it to the bus.
func NewFileSink(bus *Bus, path string, logger *logging.Logger) (*FileSink, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	s := &FileSink{file: file, logger: logger}
	s.cancel = bus.Subscribe(s.write)
	return s, nil
}

// write appends one event. Failures are warn-only.
func (s *FileSink) write(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}

	data, err := json.Marshal(logEntry{Type: e.EventType(), Time: time.Now().UTC(), Event: e})
	if err != nil {
		s.logger.Warn("failed to encode event", "type", e.EventType(), "error", err)
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.logger.Warn("failed to append event", "type", e.EventType(), "error", err)
	}
}

// Close unsubscribes from the bus and closes the log file.
func (s *FileSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
