// Package logger provides the process-wide logr.Logger backed by zerolog.
package logger

import (
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	root   logr.Logger
	loaded bool
)

// GetLogger returns the shared root logger, initializing it on first use.
func GetLogger() logr.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !loaded {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		root = zerologr.New(&zl)
		loaded = true
	}
	return root
}

// SetLogger replaces the shared root logger.
func SetLogger(l logr.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	loaded = true
}

// Infow logs at info level with structured key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	GetLogger().Info(msg, keysAndValues...)
}

// Debugw logs at debug verbosity with structured key/value pairs.
func Debugw(msg string, keysAndValues ...interface{}) {
	GetLogger().V(1).Info(msg, keysAndValues...)
}

// Errorw logs an error with structured key/value pairs.
func Errorw(msg string, err error, keysAndValues ...interface{}) {
	GetLogger().Error(err, msg, keysAndValues...)
}
