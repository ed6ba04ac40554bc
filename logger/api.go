// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers over sirupsen/logrus.
//
// Every log line is tagged with the emitting package, function, and
// goroutine; land operations additionally tag the land kind, operation, and
// range via LandOp(). Trace and debug output are enabled per package from
// the Logging.TraceLevelLogging / Logging.DebugLevelLogging config options.
package logger

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/freerange/utils"
)

type Level int

// The logging levels supported by this package. Trace and Debug are finer
// grained than logrus: whether they are emitted at all is decided here, per
// package, and they reach logrus as Info and Debug respectively.
const (
	// PanicLevel logs and then calls panic with the log message
	PanicLevel Level = iota
	// FatalLevel logs and then calls os.Exit(1)
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	// TraceLevel follows the success path through land operations;
	// per-package, off by default
	TraceLevel
	// DebugLevel is for very verbose internal state dumps; per-package,
	// off by default
	DebugLevel
)

// Log fields attached by this package:
const (
	packageKey  = "package"
	functionKey = "function"
	gidKey      = "goroutine"
	pidKey      = "pid"
	errorKey    = "error"
	landKey     = "land"
	opKey       = "op"
	rangeKey    = "range"
)

var pid = os.Getpid()

// Master switches, derived from the per-package maps below so the disabled
// case costs one comparison on the hot path.
var traceLevelEnabled = false
var debugLevelEnabled = false

// packageTraceSettings lists the packages whose trace logging can be enabled
// via Logging.TraceLevelLogging. A package absent from this map cannot be
// traced.
var packageTraceSettings = map[string]bool{
	"cbs":         false,
	"failover":    false,
	"freelist":    false,
	"logger":      false,
	"mvff":        false,
	"transitions": false,
}

// packageDebugSettings is the same gate for debug logging via
// Logging.DebugLevelLogging.
var packageDebugSettings = map[string]bool{
	"cbs":      false,
	"failover": false,
	"freelist": false,
	"mvff":     false,
}

// applyPackageSettings enables the packages named in confSlice (the
// pseudo-package "none" disables everything) and reports whether any package
// ended up enabled
func applyPackageSettings(settings map[string]bool, confSlice []string) (anyEnabled bool) {
	if 0 == len(confSlice) {
		for pkg := range settings {
			settings[pkg] = false
		}
		return false
	}
	for _, pkg := range confSlice {
		if "none" == pkg {
			for enabledPkg := range settings {
				settings[enabledPkg] = false
			}
			return false
		}
		if _, known := settings[pkg]; known {
			settings[pkg] = true
		}
	}
	for _, enabled := range settings {
		if enabled {
			anyEnabled = true
		}
	}
	return
}

func setTraceLoggingLevel(confSlice []string) {
	traceLevelEnabled = applyPackageSettings(packageTraceSettings, confSlice)
	if traceLevelEnabled {
		for pkg, enabled := range packageTraceSettings {
			if enabled {
				Infof("Package %v trace logging is enabled.", pkg)
			}
		}
	}
}

func setDebugLoggingLevel(confSlice []string) {
	debugLevelEnabled = applyPackageSettings(packageDebugSettings, confSlice)
	if debugLevelEnabled {
		for pkg, enabled := range packageDebugSettings {
			if enabled {
				Infof("Package %v debug logging is enabled.", pkg)
			}
		}
	}
}

func traceEnabled(pkg string) bool {
	return packageTraceSettings[pkg]
}

func debugEnabled(pkg string) bool {
	return packageDebugSettings[pkg]
}

// emit is the single funnel every public API lands in. It identifies the
// caller two frames up (the caller of the public wrapper), applies the
// per-package trace/debug gates, and hands the line to logrus.
//
// Wrappers must sit exactly one call deep for the caller identification to
// hold; don't add helper layers between a public API and emit.
func emit(level Level, extra log.Fields, format string, args ...interface{}) {
	fn, pkg, gid := utils.GetFuncPackage(2)

	if (TraceLevel == level) && !traceEnabled(pkg) {
		return
	}
	if (DebugLevel == level) && !debugEnabled(pkg) {
		return
	}

	fields := log.Fields{
		functionKey: fn,
		packageKey:  pkg,
		gidKey:      gid,
		pidKey:      pid,
	}
	for key, value := range extra {
		fields[key] = value
	}

	entry := log.WithFields(fields)
	msg := fmt.Sprintf(format, args...)

	switch level {
	case PanicLevel:
		entry.Panic(msg)
	case FatalLevel:
		entry.Fatal(msg)
	case ErrorLevel:
		entry.Error(msg)
	case WarnLevel:
		entry.Warn(msg)
	case InfoLevel, TraceLevel:
		entry.Info(msg)
	case DebugLevel:
		entry.Debug(msg)
	}
}

func errField(err error) log.Fields {
	return log.Fields{errorKey: err}
}

// EXTERNAL logging APIs

func Errorf(format string, args ...interface{}) {
	emit(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	emit(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	emit(InfoLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	emit(WarnLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	if !traceLevelEnabled {
		return
	}
	emit(TraceLevel, nil, format, args...)
}

func Debugf(format string, args ...interface{}) {
	if !debugLevelEnabled {
		return
	}
	emit(DebugLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	emit(ErrorLevel, errField(err), format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	emit(WarnLevel, errField(err), format, args...)
}

func PanicfWithError(err error, format string, args ...interface{}) {
	emit(PanicLevel, errField(err), format, args...)
}

// OpCtx tags every line it emits with the identity of one land operation:
// the land kind, the operation name, and the range being operated on. The
// land packages create one at the interesting branch points (spill,
// recovery, exhaustion) so those paths can be followed in the logs.
type OpCtx struct {
	extra log.Fields
}

// LandOp returns an OpCtx for the given land kind, operation, and range
func LandOp(landKind string, op string, rng fmt.Stringer) (ctx OpCtx) {
	ctx.extra = log.Fields{
		landKey:  landKind,
		opKey:    op,
		rangeKey: rng.String(),
	}
	return
}

func (ctx OpCtx) Tracef(format string, args ...interface{}) {
	if !traceLevelEnabled {
		return
	}
	emit(TraceLevel, ctx.extra, format, args...)
}

func (ctx OpCtx) Warnf(format string, args ...interface{}) {
	emit(WarnLevel, ctx.extra, format, args...)
}

func (ctx OpCtx) PanicfWithError(err error, format string, args ...interface{}) {
	fields := log.Fields{errorKey: err}
	for key, value := range ctx.extra {
		fields[key] = value
	}
	emit(PanicLevel, fields, format, args...)
}

// AddLogTarget adds another target for log messages to be written to. writer
// is called once for each log message.
//
// Logger.Up() must be called before this function is used.
//
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// LogBuffer captures the most recent log entries for test verification;
// LogEntries[0] is the newest.
type LogBuffer struct {
	LogEntries   []string
	TotalEntries int
}

// LogTarget is the io.Writer side of a LogBuffer, suitable for AddLogTarget()
type LogTarget struct {
	LogBuf *LogBuffer
}

// Init sizes the LogTarget to hold the nEntry most recent log entries
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{LogEntries: make([]string, nEntry)}
}

// Write is called by logger for each log entry
func (target LogTarget) Write(p []byte) (n int, err error) {
	if nil == target.LogBuf {
		return 0, nil
	}

	entries := target.LogBuf.LogEntries
	for i := len(entries) - 1; i > 0; i-- {
		entries[i] = entries[i-1]
	}
	entries[0] = string(p)

	target.LogBuf.TotalEntries++

	return len(p), nil
}
