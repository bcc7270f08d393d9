package chat

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pricefinder/pricefinder/internal/config"
)

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  time.Time      `json:"ts"`
	ClientID   string         `json:"client_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConversationLogger records chat traffic.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NoopConversationLogger returns a logger that discards everything.
func NoopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

var pathUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// maxOpenLogFiles bounds the handles kept open across sessions. The least
// recently written file is closed when the bound is exceeded.
const maxOpenLogFiles = 64

type openLogFile struct {
	path string
	f    *os.File
}

// fileConversationLogger appends NDJSON lines from a single writer goroutine.
type fileConversationLogger struct {
	cfg    config.ConversationLogConfig
	logger *slog.Logger

	queue chan ConversationLogEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	// files and lru are owned by the writer goroutine.
	maxOpen int
	files   map[string]*list.Element
	lru     *list.List
	dropped atomic.Int64
}

// NewConversationLogger starts a file-backed logger, or returns a no-op
// logger when cfg is disabled.
func NewConversationLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return NoopConversationLogger(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		maxOpen: maxOpenLogFiles,
		files:   make(map[string]*list.Element),
		lru:     list.New(),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Close drains the queue and closes all files.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	var firstErr error
	for l.lru.Len() > 0 {
		if err := l.closeOldest(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		l.write(l.sessionPath(event), line)
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *fileConversationLogger) write(path string, line []byte) {
	f, err := l.open(path)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "path", path, "error", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
	}
}

// open returns a cached handle for path, opening it if needed and closing
// the least recently used handle once more than maxOpen are held.
func (l *fileConversationLogger) open(path string) (*os.File, error) {
	if el, ok := l.files[path]; ok {
		l.lru.MoveToFront(el)
		return el.Value.(*openLogFile).f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[path] = l.lru.PushFront(&openLogFile{path: path, f: f})
	for l.lru.Len() > l.maxOpen {
		if err := l.closeOldest(); err != nil {
			l.logger.Warn("Failed to close conversation log", "error", err)
		}
	}
	return f, nil
}

func (l *fileConversationLogger) closeOldest() error {
	el := l.lru.Back()
	if el == nil {
		return nil
	}
	entry := l.lru.Remove(el).(*openLogFile)
	delete(l.files, entry.path)
	if err := entry.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", entry.path, err)
	}
	return nil
}

func (l *fileConversationLogger) sessionPath(event ConversationLogEvent) string {
	client := safePathPart(event.ClientID, "anonymous")
	sess := safePathPart(event.SessionID, "default")
	return filepath.Join(l.cfg.Dir, client, sess+".ndjson")
}

func safePathPart(v, fallback string) string {
	v = pathUnsafeChars.ReplaceAllString(strings.TrimSpace(v), "_")
	v = strings.Trim(v, ".")
	if v == "" {
		return fallback
	}
	return v
}

// cleanForReadability strips control characters other than newline and
// tab and collapses runs of blank lines.
func cleanForReadability(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
