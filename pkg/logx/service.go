package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./rssbot.log"

// Service owns the sinks behind a root logger and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	root *root
	file *os.File
}

// NewService applies cfg and returns the service and its root Logger.
func NewService(cfg Config) (*Service, Logger) {
	s := &Service{root: newRoot(build(cfg.Level, consoleWriter(os.Stdout)))}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{root: s.root} }

// Apply rebuilds level and sinks. Every Logger derived from this service
// sees the change. When no sink is enabled, console is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	var file *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := build(cfg.Level, zerolog.MultiLevelWriter(sinks...))
	s.root.zl.Store(&zl)
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

// Close releases the log file, if any. Call it after the last entry.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
