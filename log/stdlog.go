// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package log

import (
	"fmt"
	"io"
	"log"
)

// Stdlog is the default logger. It writes flat, prefixed lines via the
// standard library log package.
type Stdlog struct {
	level Level
	err   *log.Logger
	warn  *log.Logger
	info  *log.Logger
	debug *log.Logger
}

// CallDepth is the call depth value for the log.Logger Output method.
const CallDepth = 2

// New returns a new Stdlog writing to output at the given level.
func New(output io.Writer, level Level) *Stdlog {
	lf := log.Lmsgprefix | log.LstdFlags
	return &Stdlog{
		level: level,
		err:   log.New(output, "ERROR: ", lf),
		warn:  log.New(output, " WARN: ", lf),
		info:  log.New(output, " INFO: ", lf),
		debug: log.New(output, "DEBUG: ", lf),
	}
}

func (l *Stdlog) logMessage(logger *log.Logger, record Log) {
	format := fmt.Sprintf("%s %s", record.directionPrefix(), record.Format)
	_ = logger.Output(CallDepth, fmt.Sprintf(format, record.Messages...))
}

// Debugf logs a debug message.
func (l *Stdlog) Debugf(record Log) {
	if l.level >= LevelDebug {
		l.logMessage(l.debug, record)
	}
}

// Infof logs an info message.
func (l *Stdlog) Infof(record Log) {
	if l.level >= LevelInfo {
		l.logMessage(l.info, record)
	}
}

// Warnf logs a warning message.
func (l *Stdlog) Warnf(record Log) {
	if l.level >= LevelWarn {
		l.logMessage(l.warn, record)
	}
}

// Errorf logs an error message.
func (l *Stdlog) Errorf(record Log) {
	if l.level >= LevelError {
		l.logMessage(l.err, record)
	}
}
