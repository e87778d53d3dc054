// Package logs builds the gateway's zap loggers: a console core, a rotating
// file core and a sanitizing wrapper that keeps credentials and personal
// data out of log output.
package logs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/security"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Options tune SetupLogger beyond what LogConfig carries
type Options struct {
	// Classifier, when set, also masks personal data found by the privacy
	// patterns. Without it only credential patterns are applied.
	Classifier *security.Classifier
	// Sanitizer receives the sanitizing core so resolved secrets can be
	// registered after startup
	Sanitizer **SecretSanitizer
}

// ParseLevel maps a config level to a zap level; trace maps to debug
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration
func SetupLogger(cfg *config.LogConfig, opts Options) (*zap.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), level))
	}
	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	core := zapcore.NewTee(cores...)
	if cfg.SanitizeSecrets {
		s := NewSecretSanitizer(core, opts.Classifier)
		if opts.Sanitizer != nil {
			*opts.Sanitizer = s
		}
		core = s
	}
	return zap.New(core, zap.AddCaller()), nil
}

// SetupCommandLogger creates a console logger for CLI commands. The serve
// command defaults to info, everything else to warn.
func SetupCommandLogger(serverCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	level := LogLevelWarn
	if serverCommand {
		level = LogLevelInfo
	}
	if logLevel != "" {
		level = logLevel
	}

	cfg := config.DefaultLogConfig()
	cfg.Level = level
	cfg.EnableFile = logToFile
	cfg.EnableConsole = true
	cfg.LogDir = logDir
	return SetupLogger(cfg, Options{})
}

func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	encoder := fileEncoder()
	if cfg.JSONFormat {
		encoder = jsonEncoder()
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(rotator), level), nil
}

func consoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// fileEncoder is structured but readable
func fileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
