package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	unsupportedLogLevelTemplateConstant   = "unsupported log level %q"
	unsupportedLogFormatTemplateConstant  = "unsupported log format %q"
	logFileDirectoryErrorTemplateConstant = "unable to create log directory %s: %w"
	logFileOpenErrorTemplateConstant      = "unable to open log file %s: %w"
	logFileDirectoryPermissionConstant    = 0o755
	consoleTimeLayoutConstant             = "15:04:05.000"
)

// LogLevel enumerates supported diagnostic verbosity levels.
type LogLevel string

// Supported log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat enumerates supported log encodings.
type LogFormat string

// Supported log formats.
const (
	LogFormatStructured LogFormat = "structured"
	LogFormatConsole    LogFormat = "console"
)

// LoggerOutputs groups the loggers produced for a single invocation.
type LoggerOutputs struct {
	DiagnosticLogger *zap.Logger
	ConsoleLogger    *zap.Logger
	LogFilePath      string
	Cleanup          func()
}

// LoggerFactory creates zap loggers for the requested level and format.
type LoggerFactory struct {
	logFilePath string
}

// NewLoggerFactory constructs a LoggerFactory that writes to standard error only.
func NewLoggerFactory() LoggerFactory {
	return LoggerFactory{}
}

// WithLogFilePath returns a factory that additionally tees every diagnostic entry, at debug level, into the file.
func (factory LoggerFactory) WithLogFilePath(logFilePath string) LoggerFactory {
	factory.logFilePath = strings.TrimSpace(logFilePath)
	return factory
}

// CreateLoggerOutputs builds the diagnostic and console loggers.
func (factory LoggerFactory) CreateLoggerOutputs(logLevel LogLevel, logFormat LogFormat) (LoggerOutputs, error) {
	zapLevel, levelError := parseLogLevel(logLevel)
	if levelError != nil {
		return LoggerOutputs{}, levelError
	}

	standardError := zapcore.Lock(os.Stderr)

	var diagnosticCore zapcore.Core
	consoleLogger := zap.NewNop()
	switch LogFormat(strings.ToLower(strings.TrimSpace(string(logFormat)))) {
	case LogFormatStructured:
		diagnosticCore = zapcore.NewCore(zapcore.NewJSONEncoder(structuredEncoderConfig()), standardError, zapLevel)
	case LogFormatConsole:
		diagnosticCore = zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), standardError, zapLevel)
		consoleLogger = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), standardError, zapLevel))
	default:
		return LoggerOutputs{}, fmt.Errorf(unsupportedLogFormatTemplateConstant, logFormat)
	}

	cleanup := func() {}
	if len(factory.logFilePath) > 0 {
		if directoryError := os.MkdirAll(filepath.Dir(factory.logFilePath), logFileDirectoryPermissionConstant); directoryError != nil {
			return LoggerOutputs{}, fmt.Errorf(logFileDirectoryErrorTemplateConstant, filepath.Dir(factory.logFilePath), directoryError)
		}
		fileSink, closeFile, openError := zap.Open(factory.logFilePath)
		if openError != nil {
			return LoggerOutputs{}, fmt.Errorf(logFileOpenErrorTemplateConstant, factory.logFilePath, openError)
		}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(structuredEncoderConfig()), fileSink, zapcore.DebugLevel)
		diagnosticCore = zapcore.NewTee(diagnosticCore, fileCore)
		cleanup = closeFile
	}

	return LoggerOutputs{
		DiagnosticLogger: zap.New(diagnosticCore),
		ConsoleLogger:    consoleLogger,
		LogFilePath:      factory.logFilePath,
		Cleanup:          cleanup,
	}, nil
}

func parseLogLevel(logLevel LogLevel) (zapcore.Level, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(string(logLevel)))) {
	case LogLevelDebug:
		return zapcore.DebugLevel, nil
	case LogLevelInfo:
		return zapcore.InfoLevel, nil
	case LogLevelWarn:
		return zapcore.WarnLevel, nil
	case LogLevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf(unsupportedLogLevelTemplateConstant, logLevel)
	}
}

func structuredEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderConfig
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(consoleTimeLayoutConstant)
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return encoderConfig
}
