package agent

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
	"unicode"
)

// ConversationLogger records chat traffic for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogEvent is one NDJSON line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogConfig configures the NDJSON conversation logger.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// maxOpenLogFiles caps descriptors held by the logger; the least recently
// written file is closed first.
const maxOpenLogFiles = 64

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger writes events from a single goroutine so file
// appends never interleave.
type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	files  map[string]*list.Element // path -> element holding *openLog
	lru    *list.List               // front is most recently written
	limit  int
	peak   int // most files held open at once
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewConversationLogger returns a logger writing <dir>/<user>/<session>.ndjson
// and, when enabled, one global file. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	return newFileConversationLogger(cfg, logger, maxOpenLogFiles), nil
}

func newFileConversationLogger(cfg ConversationLogConfig, logger *slog.Logger, limit int) *fileConversationLogger {
	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		files:  make(map[string]*list.Element),
		lru:    list.New(),
		limit:  max(limit, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues an event; it drops the event when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Content == "" {
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
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID,
			"event_type", event.EventType)
	}
}

// Close drains queued events and closes every file.
func (l *fileConversationLogger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done

	var firstErr error
	for l.lru.Len() > 0 {
		if err := l.evict(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type openLog struct {
	path string
	f    *os.File
}

// evict closes the least recently written file.
func (l *fileConversationLogger) evict() error {
	elem := l.lru.Back()
	if elem == nil {
		return nil
	}
	entry := l.lru.Remove(elem).(*openLog)
	delete(l.files, entry.path)
	if err := entry.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", entry.path, err)
	}
	return nil
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			path := filepath.Join(l.cfg.Dir, safeSegment(event.UserID), safeSegment(event.SessionID)+".ndjson")
			l.write(path, line)
		}
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *fileConversationLogger) write(path string, line []byte) {
	f, err := l.open(path)
	if err != nil {
		l.logger.Warn("failed to open conversation log", "path", path, "error", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

// open returns a cached handle for path, evicting idle files past the limit.
func (l *fileConversationLogger) open(path string) (*os.File, error) {
	if elem, ok := l.files[path]; ok {
		l.lru.MoveToFront(elem)
		return elem.Value.(*openLog).f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	for l.lru.Len() >= l.limit {
		if err := l.evict(); err != nil {
			l.logger.Warn("failed to close idle conversation log", "error", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l.files[path] = l.lru.PushFront(&openLog{path: path, f: f})
	l.peak = max(l.peak, l.lru.Len())
	return f, nil
}

var unsafeSegmentRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeSegment makes an id usable as a single path element.
func safeSegment(s string) string {
	s = unsafeSegmentRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// cleanForReadability strips terminal escapes and control characters.
func cleanForReadability(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
