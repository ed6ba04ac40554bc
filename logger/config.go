// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/freerange/conf"
)

var logFile *os.File = nil

// multiWriter fans log output out to each of its registered io.Writers. It is
// installed as the logrus output so that AddLogTarget() can splice in extra
// targets (e.g. test log capture buffers) after Up() has completed.
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if nil != err {
			break
		}
	}
	mw.Unlock()

	// Hide the length written by any particular writer from the caller
	n = len(p)
	return
}

var logTargets = &multiWriter{}

func addLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

// Up initializes logging output per the supplied confMap. It is called by
// package transitions (which registers package logger itself) before any
// other package's Up() callback is issued.
func Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logTargets = &multiWriter{writers: make([]io.Writer, 0, 2)}

	// Fetch log file info, if provided
	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if logFilePath != "" {
		logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Errorf("couldn't open log file: %v", err)
			return err
		}
		logTargets.addWriter(logFile)
	}

	// Determine whether we should log to console. Defaults to true when no
	// log file was configured so that log output goes somewhere.
	logToConsole, confErr := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != confErr {
		logToConsole = ("" == logFilePath)
	}
	if logToConsole {
		logTargets.addWriter(os.Stderr)
	}

	log.SetOutput(logTargets)

	// NOTE: We always enable max logging in logrus, and decide in
	//       this package whether to actually log at each level
	log.SetLevel(log.DebugLevel)

	// Fetch trace and debug log settings, if provided
	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	debugConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")
	setDebugLoggingLevel(debugConfSlice)

	return nil
}

// Down terminates logging
func Down() (err error) {
	// We open and close our own logfile
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	err = nil
	return
}
