// Package logging provides the process-wide structured logger used by every
// layer of the bridge, wired through github.com/ternarybob/arbor (spec
// SPEC_FULL §10 "Logging").
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/mcpcpp/bridge/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If InitLogger hasn't been
// called yet, it falls back to a console logger rather than panicking, the
// way the teacher's internal/logger does.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger - InitLogger was not called during startup")
	}
	return globalLogger
}

// InitLogger stores logger as the global singleton.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// Setup configures and installs the global logger from cfg. Stdio-mode MCP
// serving reserves stdout/stdin for the wire protocol, so "console" output
// is only honored when the caller passes allowConsole; serve passes false,
// which forces file-only output regardless of cfg.
func Setup(cfg *config.Config, allowConsole bool) arbor.ILogger {
	logger := arbor.NewLogger()

	logsDir := filepath.Dir(cfg.LogPath())
	if err := os.MkdirAll(logsDir, 0755); err == nil {
		logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, cfg.LogPath()))
	}

	if allowConsole && cfg.Logging.Output == "console" {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(cfg.Logging.Level)

	InitLogger(logger)
	return logger
}

// SessionField is the structured-log field name for tagging a log line with
// its session key, so concurrent sessions' lines can be told apart in the
// shared log file (SPEC_FULL §12 "Per-session structured log correlation
// IDs"). Only lines whose call sites append it carry it, e.g.:
//
//	logging.GetLogger().Info().Str(logging.SessionField, key).Msg("bound")
const SessionField = "session"

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	outputType := models.OutputFormatLogfmt
	maxSize := int64(100 * 1024 * 1024)
	maxBackups := 5

	if cfg != nil {
		if cfg.Logging.TimeFormat != "" {
			timeFormat = cfg.Logging.TimeFormat
		}
		if cfg.Logging.Format == "json" {
			outputType = models.OutputFormatJSON
		}
		if cfg.Logging.MaxSizeMB > 0 {
			maxSize = int64(cfg.Logging.MaxSizeMB) * 1024 * 1024
		}
		if cfg.Logging.MaxBackups > 0 {
			maxBackups = cfg.Logging.MaxBackups
		}
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		OutputType:       outputType,
		DisableTimestamp: false,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
	}
}

// Stop flushes any remaining buffered logs before shutdown. Safe to call
// multiple times.
func Stop() {
	arborcommon.Stop()
}
