// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anonsend/anond/internal/activemn"
	"github.com/anonsend/anond/internal/anonsend"
	"github.com/anonsend/anond/internal/banmanager"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnsync"
	"github.com/anonsend/anond/internal/payments"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsystem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	amngLog = backendLog.Logger("AMNG")
	amnsLog = backendLog.Logger("AMNS")
	anodLog = backendLog.Logger("ANOD")
	anonLog = backendLog.Logger("ANON")
	bmgrLog = backendLog.Logger("BMGR")
	cmgrLog = backendLog.Logger("CMGR")
	mnpyLog = backendLog.Logger("MNPY")
	msynLog = backendLog.Logger("MSYN")
	peerLog = backendLog.Logger("PEER")
	rpccLog = backendLog.Logger("RPCC")
	srvrLog = backendLog.Logger("SRVR")
)

// Initialize package-global logger variables.
func init() {
	activemn.UseLogger(amnsLog)
	anonsend.UseLogger(anonLog)
	banmanager.UseLogger(bmgrLog)
	connmgr.UseLogger(cmgrLog)
	masternode.UseLogger(amngLog)
	mnsync.UseLogger(msynLog)
	payments.UseLogger(mnpyLog)
	rpcclient.UseLogger(rpccLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"AMNG": amngLog,
	"AMNS": amnsLog,
	"ANOD": anodLog,
	"ANON": anonLog,
	"BMGR": bmgrLog,
	"CMGR": cmgrLog,
	"MNPY": mnpyLog,
	"MSYN": msynLog,
	"PEER": peerLog,
	"RPCC": rpccLog,
	"SRVR": srvrLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxSizeKiB int64, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, maxSizeKiB, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	logRotator = r
	return nil
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := slog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// directionString is a helper function that returns a string that represents
// the direction of a connection (inbound or outbound).
func directionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
