// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides the structured, leveled, key-value logger used
// across pricewatch. It is a thin pass-through to github.com/luxfi/log,
// matching the geth/luxfi call idiom: log.Info("message", "key", value).
package log

import (
	"context"
	"io"
	"log/slog"

	luxlog "github.com/luxfi/log"
)

type Logger = luxlog.Logger

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

var (
	New  = luxlog.New
	Root = luxlog.Root
)

func Trace(msg string, ctx ...interface{}) { luxlog.Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { luxlog.Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { luxlog.Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { luxlog.Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { luxlog.Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { luxlog.Root().Crit(msg, ctx...) }

func Enabled(ctx context.Context, level slog.Level) bool {
	return luxlog.Root().Enabled(ctx, level)
}

func SetDefault(l Logger) {
	luxlog.SetDefault(l)
}

// NewTerminalHandlerWithLevel returns a slog text handler writing to w at
// level. useColor is ignored: the output is never colorized.
func NewTerminalHandlerWithLevel(w io.Writer, level slog.Level, useColor bool) slog.Handler {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return h
}

// LvlFromString parses a CLI-supplied level name ("debug", "info", ...).
func LvlFromString(lvlString string) (slog.Level, error) {
	level, err := luxlog.ToLevel(lvlString)
	return slog.Level(level), err
}

func NewLogger(h slog.Handler) Logger {
	return luxlog.Root()
}
