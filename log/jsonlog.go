// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package log

import (
	"fmt"
	"io"
	"log/slog"
)

// JSONlog is a structured JSON logger backed by log/slog.
type JSONlog struct {
	level Level
	log   *slog.Logger
}

// NewJSON returns a new JSONlog writing to output at the given level.
func NewJSON(output io.Writer, level Level) *JSONlog {
	logOpts := slog.HandlerOptions{}
	switch level {
	case LevelDebug:
		logOpts.Level = slog.LevelDebug
	case LevelInfo:
		logOpts.Level = slog.LevelInfo
	case LevelWarn:
		logOpts.Level = slog.LevelWarn
	case LevelError:
		logOpts.Level = slog.LevelError
	default:
		logOpts.Level = slog.LevelDebug
	}
	return &JSONlog{
		level: level,
		log:   slog.New(slog.NewJSONHandler(output, &logOpts)),
	}
}

// Debugf logs a debug message via the structured JSON logger.
func (l *JSONlog) Debugf(record Log) {
	if l.level >= LevelDebug {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, record.directionFrom()),
			slog.String(DirToString, record.directionTo()),
		).Debug(fmt.Sprintf(record.Format, record.Messages...))
	}
}

// Infof logs an info message via the structured JSON logger.
func (l *JSONlog) Infof(record Log) {
	if l.level >= LevelInfo {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, record.directionFrom()),
			slog.String(DirToString, record.directionTo()),
		).Info(fmt.Sprintf(record.Format, record.Messages...))
	}
}

// Warnf logs a warning message via the structured JSON logger.
func (l *JSONlog) Warnf(record Log) {
	if l.level >= LevelWarn {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, record.directionFrom()),
			slog.String(DirToString, record.directionTo()),
		).Warn(fmt.Sprintf(record.Format, record.Messages...))
	}
}

// Errorf logs an error message via the structured JSON logger.
func (l *JSONlog) Errorf(record Log) {
	if l.level >= LevelError {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, record.directionFrom()),
			slog.String(DirToString, record.directionTo()),
		).Error(fmt.Sprintf(record.Format, record.Messages...))
	}
}
