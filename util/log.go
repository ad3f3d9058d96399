// util/log.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package util

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
)

// Logger provides a simple leveled logging system; debugging and verbose
// output may both be suppressed independently.  A nil *Logger is usable
// and behaves like NewLogger(false, false), which keeps library code
// free of nil checks.
type Logger struct {
	NErrors int
	mu      sync.Mutex
	debug   io.Writer
	verbose io.Writer
	warning io.Writer
	err     io.Writer
}

func NewLogger(verbose, debug bool) *Logger {
	l := &Logger{warning: os.Stderr, err: os.Stderr}
	if verbose {
		l.verbose = os.Stderr
	}
	if debug {
		l.debug = os.Stderr
	}
	return l
}

func (l *Logger) Print(f string, args ...interface{}) {
	fmt.Printf("%s", format(f, args...))
}

func (l *Logger) Debug(f string, args ...interface{}) {
	if l == nil || l.debug == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.debug, format(f, args...))
}

func (l *Logger) Verbose(f string, args ...interface{}) {
	if l == nil || l.verbose == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.verbose, format(f, args...))
}

func (l *Logger) Warning(f string, args ...interface{}) {
	if l == nil {
		fmt.Fprint(os.Stderr, format(f, args...))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.warning, format(f, args...))
}

func (l *Logger) Error(f string, args ...interface{}) {
	if l == nil {
		fmt.Fprint(os.Stderr, format(f, args...))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.NErrors++
	fmt.Fprint(l.err, format(f, args...))
}

func (l *Logger) Fatal(f string, args ...interface{}) {
	if l != nil {
		l.mu.Lock()
		l.NErrors++
		l.mu.Unlock()
	}
	fmt.Fprint(os.Stderr, format(f, args...))
	os.Exit(1)
}

// Check prints a fatal error if the provided condition is false.  The
// error message includes the source file and line number where the check
// failed.  Intended for command-line entry points, not library code.
func (l *Logger) Check(v bool, msg ...interface{}) {
	if v {
		return
	}
	if len(msg) == 0 {
		l.Fatal("Check failed")
	} else {
		l.Fatal(msg[0].(string), msg[1:]...)
	}
}

// CheckError prints a fatal error if the given error is non-nil.  It
// takes an optional format string.
func (l *Logger) CheckError(err error, msg ...interface{}) {
	if err == nil {
		return
	}
	if len(msg) == 0 {
		l.Fatal("Error: %+v", err)
	} else {
		l.Fatal(msg[0].(string), msg[1:]...)
	}
}

func format(f string, args ...interface{}) string {
	// Two levels up the call stack.
	_, fn, line, _ := runtime.Caller(2)
	// Last two components of the path.
	fnline := path.Base(path.Dir(fn)) + "/" + path.Base(fn) + fmt.Sprintf(":%d", line)
	s := fmt.Sprintf("%-25s: ", fnline)
	s += fmt.Sprintf(f, args...)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
