// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package logfile is a singleton log writer. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines. Safe for concurrent use.
package logfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Primary log destination
var stdout io.Writer = os.Stdout

// The optional additional file to log into
var logFile *bufio.Writer
var logFileOS *os.File
var mutex sync.Mutex

// Enables logging to file. Closes any previous log file
func LogAlsoToFile(fileName string) error {
	mutex.Lock()
	defer mutex.Unlock()
	if err := closeLocked(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFileOS, logFile = f, bufio.NewWriter(f)
	return nil
}

// Derives a log file name from an output file name by replacing its suffix with .log
func AutoName(outFileName string) string {
	base := outFileName
	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		base = base[:strings.LastIndex(base, ".")]
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".log"
}

func closeLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Flush()
	if cerr := logFileOS.Close(); err == nil {
		err = cerr
	}
	logFile, logFileOS = nil, nil
	return err
}

// Flushes and closes the log file, if any. Further output goes to stdout only
func Close() error {
	mutex.Lock()
	defer mutex.Unlock()
	return closeLocked()
}

type writer struct{}

// Writes to stdout and the log file, if any
func (writer) Write(p []byte) (n int, err error) {
	mutex.Lock()
	defer mutex.Unlock()
	n, err = stdout.Write(p)
	if err != nil || logFile == nil {
		return n, err
	}
	return logFile.Write(p)
}

// Returns an io.Writer for passing the log into processing steps
func Writer() io.Writer {
	return writer{}
}

func LogPrint(args ...interface{}) (n int, err error) {
	return fmt.Fprint(writer{}, args...)
}

func LogPrintln(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(writer{}, args...)
}

func LogPrintf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(writer{}, format, args...)
}

func LogFatal(args ...interface{}) {
	fmt.Fprintln(writer{}, args...)
	Close()
	os.Exit(1)
}

func LogFatalf(format string, args ...interface{}) {
	fmt.Fprintf(writer{}, format, args...)
	Close()
	os.Exit(1)
}

func LogSync() {
	mutex.Lock()
	defer mutex.Unlock()
	if logFile != nil {
		logFile.Flush()
		logFileOS.Sync()
	}
}
