// Package log provides the logger used across audiograph components.
package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DebugEnv is the environment variable that turns on debug logging.
const DebugEnv = "AUDIOGRAPH_DEBUG"

var debug bool

// Logger is a global interface for audiograph loggers. *logrus.Logger and
// *logrus.Entry satisfy it.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv(DebugEnv))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Component returns a logger that tags every entry with the component kind
// and its id.
func Component(l Logger, kind, id string) Logger {
	switch v := l.(type) {
	case *logrus.Logger:
		return v.WithFields(logrus.Fields{"component": kind, "id": id})
	case *logrus.Entry:
		return v.WithFields(logrus.Fields{"component": kind, "id": id})
	}
	return l
}

type silent struct{}

func (silent) Debug(...interface{}) {}

func (silent) Info(...interface{}) {}

func (silent) Warn(...interface{}) {}

// Silent is a logger that discards everything. It is used when no logger
// is provided.
var Silent Logger = silent{}

// OrSilent returns l, or Silent if l is nil.
func OrSilent(l Logger) Logger {
	if l == nil {
		return Silent
	}
	return l
}
