// Package debug holds the process-wide flag gating per-sector debug
// logging on the data path. The flag is read on every sector
// completion, so it lives behind its own RWMutex rather than a logger
// level check.
package debug

import (
	"os"
	"sync"
)

var (
	enabled bool
	mu      sync.RWMutex
)

func init() {
	// Initialize from the environment on package load so debug logging
	// works in tests and tools that never pass through a cmd/ entrypoint.
	InitFromEnv()
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// SetEnabled sets whether debug logging is enabled.
func SetEnabled(value bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = value
}

// InitFromEnv initializes debug logging from the environment: DEBUG=true
// enables it outright, as does LOG_LEVEL=debug.
func InitFromEnv() {
	if os.Getenv("DEBUG") == "true" {
		SetEnabled(true)
		return
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		SetEnabled(true)
		return
	}
	SetEnabled(false)
}

// InitFromLogLevel initializes debug logging from a log level string,
// deferring to the environment variables when either is set.
func InitFromLogLevel(logLevel string) {
	if os.Getenv("DEBUG") == "" && os.Getenv("LOG_LEVEL") == "" {
		SetEnabled(logLevel == "debug")
	}
}
