package mongoneo

import (
	"log/slog"
	"sync"
)

var (
	logMu  sync.RWMutex
	pkgLog = slog.Default()
)

// SetLogger replaces the package logger. The default is slog.Default().
func SetLogger(l *slog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l != nil {
		pkgLog = l
	}
}

func logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return pkgLog
}
