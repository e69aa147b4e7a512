// Package logging wraps log15 the way turbo-geth's own log package wraps it:
// a package-level Root logger, component sub-loggers created with New, and
// Info/Warn/Error/Debug calls taking alternating key-value pairs.
package logging

import (
	"os"

	"github.com/inconshreveable/log15"
)

// Logger is the interface every subsystem logs through.
type Logger = log15.Logger

var root = log15.New()

func init() {
	root.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
}

// Root returns the process-wide root logger.
func Root() Logger { return root }

// New creates a component logger carrying the given context, e.g.
// logging.New("component", "pipeline", "node", id).
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

// SetVerbosity adjusts the root handler's minimum level.
func SetVerbosity(lvl log15.Lvl) {
	root.SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
}

func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
