package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default console-file rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where captured console output of a supervised node is
// persisted. If File is empty and Dir is set, the file is Dir/<name>.console.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`          // base directory for console logs
	File       string `mapstructure:"file"`         // explicit path overrides Dir
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// Path returns the console log path for name, or "" when disabled.
func (c Config) Path(name string) string {
	return c.path(name, "console")
}

func (c Config) path(name, kind string) string {
	if c.File != "" {
		return c.File
	}
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, fmt.Sprintf("%s.%s.log", name, kind))
}

// ConsoleWriter returns a rotating writer for the console log of name,
// or nil when neither File nor Dir is configured.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	return c.writer(c.Path(name))
}

func (c Config) writer(path string) io.WriteCloser {
	if path == "" {
		return nil
	}
	if c.Dir != "" {
		_ = os.MkdirAll(c.Dir, 0o750)
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Options configures the supervisor's own slog logger.
type Options struct {
	Level  string    // debug, info, warn, error (default info)
	Format string    // text, json, color (default text)
	Writer io.Writer // default os.Stderr
	// File, when set, receives a JSON copy of every record in
	// <dir>/nodekeeper.supervisor.log (or File.File) with rotation.
	File *Config
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger from opts. The returned closer releases the optional
// rotating file and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nopCloser{}, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	case "color":
		h = NewColorTextHandler(w, ho, true)
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != nil {
		if fw := opts.File.writer(opts.File.path("nodekeeper", "supervisor")); fw != nil {
			h = fanout{h, slog.NewJSONHandler(fw, ho)}
			closer = fw
		}
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
