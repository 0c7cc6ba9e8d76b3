// Package corelog implements the structured logger (C1): a buffered,
// level-gated, correlation-scoped writer with secret redaction and a
// periodic flush, fronting go.uber.org/zap and a lumberjack-rotated file
// sink the way internal/common/logger fronts zap for this codebase.
package corelog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kandev/session-core/internal/textutil"
)

// Level is a log severity, ordered debug < info < warn < error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func parseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Config holds the logger's own tunables. Hosts populate this from
// internal/corecfg.LoggingConfig; the logger never reads a config file.
type Config struct {
	Level             string
	Format            string // "json" or "console"
	OutputPath        string // file path for the JSON-lines sink; "" disables the file sink
	MaxSizeMB         int
	MaxBackups        int
	MaxAgeDays        int
	FlushInterval     time.Duration
	DisableRedaction  bool
	DisableConsole    bool
	CorrelationID     string // if empty, a fresh uuid is generated
}

// ErrorInfo is the serialized shape of an error value inside a LogEntry.
type ErrorInfo struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// LogEntry is one structured record, matching the on-disk JSON-lines shape.
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         string                 `json:"level"`
	CorrelationID string                 `json:"correlationId"`
	Message       string                 `json:"message"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Error         *ErrorInfo             `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// sink holds the state shared by a Logger and every Child() derived from
// it: the pending buffer, the file/console writers, and the flush loop.
// Child loggers differ only in correlation id and merged context, so they
// share one sink — a flush on any of them drains the same buffer.
type sink struct {
	mu     sync.Mutex
	buffer []LogEntry
	redact bool

	file    *lumberjack.Logger
	console *zap.Logger

	flushInterval time.Duration
	stopCh        chan struct{}
	stopped       bool
	wg            sync.WaitGroup
}

// Logger is the C1 logger. It buffers entries, redacts secrets, and
// flushes on a fixed interval (or on demand) to a lumberjack-rotated file;
// a zap console logger mirrors entries immediately for interactive use.
type Logger struct {
	s *sink

	mu            sync.Mutex
	threshold     Level
	correlationID string
	baseContext   map[string]interface{}
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.Mutex
)

// New builds a Logger from cfg. The threshold resolves in priority order:
// cfg.Level, then the KANDEV_LOG_LEVEL environment variable, then "info".
func New(cfg Config) *Logger {
	threshold := LevelInfo
	if cfg.Level != "" {
		if lvl, ok := parseLevel(cfg.Level); ok {
			threshold = lvl
		}
	} else if env := os.Getenv("KANDEV_LOG_LEVEL"); env != "" {
		if lvl, ok := parseLevel(env); ok {
			threshold = lvl
		}
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 || flushInterval > 5*time.Second {
		flushInterval = 5 * time.Second
	}

	correlationID := cfg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	s := &sink{
		redact:        !cfg.DisableRedaction,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	if cfg.OutputPath != "" {
		s.file = &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		}
	}

	if !cfg.DisableConsole {
		s.console = newConsoleZap(cfg.Format, threshold)
	}

	l := &Logger{
		s:             s,
		threshold:     threshold,
		correlationID: correlationID,
	}

	s.wg.Add(1)
	go s.periodicFlush()

	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func newConsoleZap(format string, threshold Level) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	zapLevel := zapcore.InfoLevel
	switch threshold {
	case LevelDebug:
		zapLevel = zapcore.DebugLevel
	case LevelWarn:
		zapLevel = zapcore.WarnLevel
	case LevelError:
		zapLevel = zapcore.ErrorLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core)
}

// Default returns the process-wide convenience logger, lazily built with
// defaults on first use unless SetDefault has already installed one.
// Every component still accepts an injected *Logger for testability;
// Default/SetDefault exist only for callers that don't want to thread one
// through.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		defaultLoggerMu.Lock()
		defer defaultLoggerMu.Unlock()
		if defaultLogger == nil {
			defaultLogger = New(Config{Level: "info", Format: "console", DisableConsole: false})
		}
	})
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	return defaultLogger
}

// SetDefault replaces the process-wide convenience logger.
func SetDefault(l *Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// child returns a new Logger sharing the parent's sink (buffer, file,
// console, flush loop), merging ctx into every subsequent record.
func (l *Logger) child(ctx map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.baseContext)+len(ctx))
	for k, v := range l.baseContext {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Logger{
		s:             l.s,
		threshold:     l.threshold,
		correlationID: l.correlationID,
		baseContext:   merged,
	}
}

// Child returns a logger that merges ctx into every subsequent record,
// per spec's child(context) operation.
func (l *Logger) Child(ctx map[string]interface{}) *Logger {
	return l.child(ctx)
}

// SetCorrelationID scopes subsequent records to id.
func (l *Logger) SetCorrelationID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.correlationID = id
}

// GetCorrelationID returns the logger's current correlation id.
func (l *Logger) GetCorrelationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.correlationID
}

func (l *Logger) log(level Level, msg string, context map[string]interface{}, metadata map[string]interface{}, err error) {
	if level < l.threshold {
		return
	}

	entry := LogEntry{
		Timestamp:     time.Now(),
		Level:         level.String(),
		CorrelationID: l.correlationID,
		Message:       msg,
	}

	if len(l.baseContext) > 0 || len(context) > 0 {
		merged := make(map[string]interface{}, len(l.baseContext)+len(context))
		for k, v := range l.baseContext {
			merged[k] = v
		}
		for k, v := range context {
			merged[k] = v
		}
		entry.Context = merged
	}
	if len(metadata) > 0 {
		entry.Metadata = metadata
	}
	if err != nil {
		entry.Error = &ErrorInfo{
			Name:    fmt.Sprintf("%T", err),
			Message: err.Error(),
		}
	}

	if l.s.redact {
		redactEntry(&entry)
	}

	l.s.mu.Lock()
	l.s.buffer = append(l.s.buffer, entry)
	l.s.mu.Unlock()

	l.mirrorToConsole(entry)
}

// maxConsoleMessageLen caps how much of a message the console mirror
// prints; the full, untruncated message still lands in the file sink.
const maxConsoleMessageLen = 4096

func (l *Logger) mirrorToConsole(entry LogEntry) {
	if l.s.console == nil {
		return
	}
	msg := textutil.TruncateWithEllipsis(entry.Message, maxConsoleMessageLen)
	fields := []zap.Field{zap.String("correlation_id", entry.CorrelationID)}
	for k, v := range entry.Context {
		fields = append(fields, zap.Any(k, v))
	}
	for k, v := range entry.Metadata {
		fields = append(fields, zap.Any("meta_"+k, v))
	}
	switch entry.Level {
	case "debug":
		l.s.console.Debug(msg, fields...)
	case "warn":
		l.s.console.Warn(msg, fields...)
	case "error":
		if entry.Error != nil {
			fields = append(fields, zap.String("error", entry.Error.Message))
		}
		l.s.console.Error(msg, fields...)
	default:
		l.s.console.Info(msg, fields...)
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, context map[string]interface{}, metadata map[string]interface{}) {
	l.log(LevelDebug, msg, context, metadata, nil)
}

// Info logs at info level.
func (l *Logger) Info(msg string, context map[string]interface{}, metadata map[string]interface{}) {
	l.log(LevelInfo, msg, context, metadata, nil)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, context map[string]interface{}, metadata map[string]interface{}) {
	l.log(LevelWarn, msg, context, metadata, nil)
}

// Error logs at error level, optionally attaching err.
func (l *Logger) Error(msg string, err error, context map[string]interface{}, metadata map[string]interface{}) {
	l.log(LevelError, msg, context, metadata, err)
}

// Flush forces the buffered write queue to disk. Entries that fail to
// write are restored to the head of the buffer so the next flush retries
// them, per spec's flush failure handling.
func (l *Logger) Flush() error {
	s := l.s
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 || s.file == nil {
		return nil
	}

	if err := s.writeEntries(pending); err != nil {
		s.mu.Lock()
		s.buffer = append(pending, s.buffer...)
		s.mu.Unlock()

		if s.console != nil {
			s.console.Error("log flush failed, entries retained for retry", zap.Error(err))
		}
		return err
	}
	return nil
}

func (s *sink) writeEntries(entries []LogEntry) error {
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := s.file.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *sink) periodicFlush() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			pending := s.buffer
			s.buffer = nil
			s.mu.Unlock()
			if len(pending) == 0 || s.file == nil {
				continue
			}
			if err := s.writeEntries(pending); err != nil {
				s.mu.Lock()
				s.buffer = append(pending, s.buffer...)
				s.mu.Unlock()
				if s.console != nil {
					s.console.Error("log flush failed, entries retained for retry", zap.Error(err))
				}
			}
		}
	}
}

// Shutdown stops the periodic flusher and flushes once more. Safe to call
// on any logger sharing this sink; subsequent calls are no-ops.
func (l *Logger) Shutdown() error {
	s := l.s
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	err := l.Flush()
	if s.file != nil {
		_ = s.file.Close()
	}
	if s.console != nil {
		_ = s.console.Sync()
	}
	return err
}
