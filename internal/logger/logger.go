// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the process-wide structured logger both
// splitfused and splitfuse use: a slog.Logger backed by either stderr
// or a lumberjack-rotated file, in text or json format, with five
// severities (TRACE through ERROR, plus OFF to silence everything).
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names accepted in configuration and CLI flags.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// Custom slog levels, spaced the same way slog's own Debug/Info/Warn/Error
// are, with TRACE below Debug and OFF above Error so it never fires.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = 12
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
	LevelOff:   "OFF",
}

// LogRotateConfig controls lumberjack's rotation behavior.
type LogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// DefaultLogRotateConfig matches splitfused's packaged default.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: true}
}

// FileConfig is what InitLogFile needs from the process's configuration.
// Built by cfg from the bound flags/config file.
type FileConfig struct {
	FilePath        string
	Format          string // "text" or "json", defaults to json
	Severity        string
	LogRotateConfig LogRotateConfig
}

type loggerFactory struct {
	mu sync.Mutex

	format          string
	level           string
	file            *os.File
	sysWriter       io.Writer
	logRotateConfig LogRotateConfig
}

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{
		format:          "json",
		level:           INFO,
		sysWriter:       os.Stderr,
		logRotateConfig: DefaultLogRotateConfig(),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
)

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case TRACE:
		programLevel.Set(LevelTrace)
	case DEBUG:
		programLevel.Set(LevelDebug)
	case INFO:
		programLevel.Set(LevelInfo)
	case WARNING:
		programLevel.Set(LevelWarn)
	case ERROR:
		programLevel.Set(LevelError)
	case OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// createJsonOrTextHandler builds the slog.Handler matching f.format,
// renaming the "level" attribute to "severity" with its custom name,
// renaming "msg" to "message" and prefixing every message with prefix
// (used by tests to disambiguate concurrent suites sharing stderr).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.LevelKey:
			lvl, _ := a.Value.Any().(slog.Level)
			name, ok := levelNames[lvl]
			if !ok {
				name = lvl.String()
			}
			a.Key = "severity"
			a.Value = slog.StringValue(name)
		case slog.MessageKey:
			a.Key = "message"
			a.Value = slog.StringValue(prefix + a.Value.String())
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replace}
	if strings.EqualFold(f.format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// InitLogFile points the default logger at a rotated file on disk,
// replacing any in-memory/stderr destination previously configured.
func InitLogFile(c FileConfig) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	lj := &lumberjack.Logger{
		Filename:   c.FilePath,
		MaxSize:    c.LogRotateConfig.MaxFileSizeMB,
		MaxBackups: c.LogRotateConfig.BackupFileCount,
		Compress:   c.LogRotateConfig.Compress,
	}

	f, err := os.OpenFile(c.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logger: open %s: %w", c.FilePath, err)
	}

	format := c.Format
	if format == "" {
		format = "json"
	}

	defaultLoggerFactory.file = f
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.format = format
	defaultLoggerFactory.level = c.Severity
	defaultLoggerFactory.logRotateConfig = c.LogRotateConfig

	setLoggingLevel(c.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(lj, programLevel, ""))
	_ = lj
	return nil
}

// SetLogFormat rebuilds the default logger in the given format over the
// factory's stderr writer. It does not keep a file destination set up by
// InitLogFile: called after InitLogFile, it switches output to stderr.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.format = format

	w := defaultLoggerFactory.sysWriter
	if w == nil {
		w = os.Stderr
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// SetLogSeverity adjusts the active level without rebuilding the
// handler.
func SetLogSeverity(severity string) {
	setLoggingLevel(severity, programLevel)
}

func Tracef(format string, v ...any) { defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...)) }
func Debugf(format string, v ...any) { defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, v...)) }

// Errorf with an explicit context, for call sites already holding one
// (RPC handlers, FUSE op dispatch) so trace correlation IDs added to
// ctx in the future flow through for free.
func CtxErrorf(ctx context.Context, format string, v ...any) {
	defaultLogger.Log(ctx, LevelError, fmt.Sprintf(format, v...))
}

func CtxWarnf(ctx context.Context, format string, v ...any) {
	defaultLogger.Log(ctx, LevelWarn, fmt.Sprintf(format, v...))
}

func CtxInfof(ctx context.Context, format string, v ...any) {
	defaultLogger.Log(ctx, LevelInfo, fmt.Sprintf(format, v...))
}

// legacyWriter forwards whatever a stdlib *log.Logger writes it into the
// default structured logger at a fixed level, one record per Write call
// (the stdlib logger always hands Write one already-formatted line).
type legacyWriter struct {
	level slog.Level
	tag   string
}

func (w legacyWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSuffix(string(p), "\n")
	defaultLogger.Log(context.Background(), w.level, w.tag+msg)
	return len(p), nil
}

// NewLegacyLogger adapts the structured logger to the stdlib *log.Logger
// jacobsa/fuse's MountConfig.ErrorLogger/DebugLogger require, tagging
// every line with prefix and tag.
func NewLegacyLogger(level slog.Level, prefix, tag string) *log.Logger {
	return log.New(legacyWriter{level: level, tag: tag + ": "}, prefix, 0)
}
