// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package klog is the kernel's diagnostic log, syslog-leveled the way
// the original firmware's DBGLOG/KERNLOG macros are, writing formatted
// lines to whatever byte sink the board wires in (the debug UART console,
// out of scope for this core per its external-collaborators list).
package klog

import (
	"fmt"
	"io"
)

// Level mirrors e_dbglevel_t: syslog-compatible severities, lowest value
// most severe.
type Level int

const (
	Emerg Level = iota
	Alert
	Crit
	Err
	Warn
	Notice
	Info
	Debug
)

func (l Level) String() string {
	switch l {
	case Emerg:
		return "EMERG"
	case Alert:
		return "ALERT"
	case Crit:
		return "CRIT"
	case Err:
		return "ERR"
	case Warn:
		return "WARN"
	case Notice:
		return "NOTICE"
	case Info:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Logger writes leveled lines to an injected sink, dropping anything
// above the configured threshold the way DEBUG(level, ...) compares
// against CONFIG_DBGLEVEL before calling dbg_log.
type Logger struct {
	w         io.Writer
	threshold Level
}

// New returns a Logger writing to w, logging everything at or more severe
// than threshold.
func New(w io.Writer, threshold Level) *Logger {
	return &Logger{w: w, threshold: threshold}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || l.w == nil || level > l.threshold {
		return
	}
	fmt.Fprintf(l.w, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Emerg(format string, args ...interface{})  { l.log(Emerg, format, args...) }
func (l *Logger) Alert(format string, args ...interface{})  { l.log(Alert, format, args...) }
func (l *Logger) Crit(format string, args ...interface{})   { l.log(Crit, format, args...) }
func (l *Logger) Error(format string, args ...interface{})  { l.log(Err, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})   { l.log(Warn, format, args...) }
func (l *Logger) Notice(format string, args ...interface{}) { l.log(Notice, format, args...) }
func (l *Logger) Info(format string, args ...interface{})   { l.log(Info, format, args...) }
func (l *Logger) Debug(format string, args ...interface{})  { l.log(Debug, format, args...) }
