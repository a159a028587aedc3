package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/rs/zerolog"
)

// LogManager opens the log file, rotating it once it grows past MaxSize
type LogManager struct {
	config     *LogConfig
	currentLog *os.File
}

// NewLogManager creates a new log manager
func NewLogManager(cfg *LogConfig) *LogManager {
	return &LogManager{
		config: cfg,
	}
}

// GetWriter returns the log file writer, rotating first if needed
func (lm *LogManager) GetWriter() (io.Writer, error) {
	logDir := filepath.Dir(lm.config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.New(ErrLogDirectoryCreationFailed, "failed to create log directory", err).AddContext("path", logDir)
	}

	if err := lm.checkRotation(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lm.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.New(ErrLogFileOpenFailed, "failed to open log file", err).AddContext("path", lm.config.FilePath)
	}

	lm.currentLog = file
	return file, nil
}

func (lm *LogManager) checkRotation() error {
	if lm.config.MaxSize <= 0 {
		return nil
	}

	info, err := os.Stat(lm.config.FilePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(ErrLogFileStatFailed, "failed to stat log file", err)
	}

	if info.Size() < int64(lm.config.MaxSize)*1024*1024 {
		return nil
	}

	backupPath := fmt.Sprintf("%s.%s", lm.config.FilePath, time.Now().Format("2006-01-02-15-04-05"))
	if err := os.Rename(lm.config.FilePath, backupPath); err != nil {
		return errors.New(ErrLogRotationFailed, "failed to rotate log file", err)
	}

	return nil
}

// Close closes the log manager and any open files
func (lm *LogManager) Close() error {
	if lm.currentLog != nil {
		return lm.currentLog.Close()
	}
	return nil
}

// SetupLogger creates a zerolog logger from the configuration. The returned
// LogManager must be closed by the caller; it is nil when file logging is off.
func SetupLogger(cfg *Config) (zerolog.Logger, *LogManager, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Log.Console {
		if cfg.Log.Format == "json" {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			})
		}
	}

	var logManager *LogManager
	if cfg.Log.FilePath != "" {
		logManager = NewLogManager(&cfg.Log)
		fileWriter, err := logManager.GetWriter()
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, fileWriter)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", "annolake").
		Logger()

	return logger, logManager, nil
}
