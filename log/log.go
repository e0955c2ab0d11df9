// Package log configures loggers for the noisicaa core.
package log

import (
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("NOISICAA_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance. Debug level is switched on
// with NOISICAA_DEBUG=1.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Silent returns a logger that discards everything. Used by tests.
func Silent() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
