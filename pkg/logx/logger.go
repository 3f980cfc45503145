package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

// root is the swappable zerolog logger shared by every Logger derived from
// the same origin.
type root struct {
	zl atomic.Pointer[zerolog.Logger]
}

func newRoot(zl zerolog.Logger) *root {
	r := &root{}
	r.zl.Store(&zl)
	return r
}

// Logger carries bound fields over a shared root. The zero value discards
// everything and reports IsZero.
type Logger struct {
	root   *root
	fields []Field
}

// Nop returns a non-zero logger that writes nothing.
func Nop() Logger { return Logger{root: newRoot(zerolog.Nop())} }

// NewConsole is a standalone human-readable stdout logger.
func NewConsole(level string) Logger {
	return Logger{root: newRoot(build(level, consoleWriter(os.Stdout)))}
}

// New writes JSON lines to w (tests capture output with it).
func New(w io.Writer, level string) Logger {
	return Logger{root: newRoot(build(level, w))}
}

func (l Logger) IsZero() bool { return l.root == nil && len(l.fields) == 0 }

// With returns a logger that adds fields to every entry.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return Logger{root: l.root, fields: append(l.fields[:len(l.fields):len(l.fields)], fields...)}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }

func (l Logger) Info(msg string, fields ...Field) { l.emit(zerolog.InfoLevel, msg, fields) }

func (l Logger) Warn(msg string, fields ...Field) { l.emit(zerolog.WarnLevel, msg, fields) }

func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.root == nil {
		return
	}
	zl := l.root.zl.Load()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// 0 = emit, 1 = Info etc., 2 = the caller we want
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

func build(level string, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// ParseLevel accepts zerolog level names in any case plus "warning".
// Unknown or empty input means info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
