package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger writing JSON lines to a reopenable file, plain
// lines to the console, and the same plain lines to live subscribers.
type Logger struct {
	*zap.Logger

	filename string
	level    zap.AtomicLevel

	mu   sync.Mutex // guards file
	file *os.File

	subMu       sync.Mutex
	subscribers []chan string
}

// NewLogger opens (or creates) filename and builds the zap cores.
//
// Parameters:
//
//	filename: log file path, appended to
//	level:    zap level name ("debug", "info", ...)
//	console:  also write human readable lines to stderr
func NewLogger(filename, level string, console bool) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	file, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		filename: filename,
		level:    zap.NewAtomicLevelAt(lvl),
		file:     file,
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	lineEnc := zap.NewDevelopmentEncoderConfig()
	lineEnc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(fileSink{l}), l.level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(lineEnc), zapcore.AddSync(subscriberSink{l}), l.level),
	}
	if console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(lineEnc), zapcore.Lock(os.Stderr), l.level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l, nil
}

// NewNop returns a Logger that discards everything. Handy in tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func openLogFile(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// Filename is the path the logger writes to.
func (l *Logger) Filename() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filename
}

// SetLevel changes the minimum level of every core.
func (l *Logger) SetLevel(level zapcore.Level) { l.level.SetLevel(level) }

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Reopen closes the current file and opens filename in its place. Used on
// SIGHUP and when the file is moved away underneath us.
func (l *Logger) Reopen(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
	}

	file, err := openLogFile(filename)
	if err != nil {
		l.file = nil
		return err
	}
	l.file = file
	l.filename = filename
	return nil
}

// CheckRotate rotates the file when it grew past maxSize. maxSize is either
// a product ("10 * 1024 * 1024") or a humanized size ("10MB").
func (l *Logger) CheckRotate(maxSize string) (bool, error) {
	limit, err := ParseSize(maxSize)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	if l.file == nil {
		l.mu.Unlock()
		return false, nil
	}
	info, err := l.file.Stat()
	l.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("stat log file: %w", err)
	}

	if info.Size() <= limit {
		return false, nil
	}
	return true, l.rotateLog()
}

func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
		ext := filepath.Ext(l.filename)
		base := strings.TrimSuffix(l.filename, ext)
		rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102150405"), ext)
		if err := os.Rename(l.filename, rotated); err != nil {
			return fmt.Errorf("rename log file: %w", err)
		}
	}

	file, err := openLogFile(l.filename)
	if err != nil {
		l.file = nil
		return err
	}
	l.file = file
	return nil
}

// Subscribe returns a channel receiving every formatted log line. Slow
// readers miss lines instead of blocking the logger.
func (l *Logger) Subscribe() <-chan string {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	ch := make(chan string, 100)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Logger) Unsubscribe(ch <-chan string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	for i, sub := range l.subscribers {
		if sub == ch {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// ParseSize evaluates a size setting in bytes.
func ParseSize(expr string) (int64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty size")
	}
	if !strings.Contains(expr, "*") {
		n, err := humanize.ParseBytes(expr)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", expr, err)
		}
		return int64(n), nil
	}

	var result int64 = 1
	for _, part := range strings.Split(expr, "*") {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", expr, err)
		}
		result *= num
	}
	return result, nil
}

type fileSink struct{ l *Logger }

func (s fileSink) Write(p []byte) (int, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	if s.l.file == nil {
		return len(p), nil
	}
	return s.l.file.Write(p)
}

type subscriberSink struct{ l *Logger }

func (s subscriberSink) Write(p []byte) (int, error) {
	entry := strings.TrimRight(string(p), "\n")

	s.l.subMu.Lock()
	defer s.l.subMu.Unlock()
	for _, ch := range s.l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	return len(p), nil
}
