package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"energy-trading-api/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// Init initializes the standard logrus logger based on configuration
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(cfg.Format))
	logrus.SetOutput(writer(cfg))
}

func formatter(format string) logrus.Formatter {
	switch format {
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	default:
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		}
	}
}

func writer(cfg config.LoggingConfig) io.Writer {
	switch {
	case cfg.Output == "file" && cfg.Filename != "":
		return fileWriter(cfg.Filename, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress)
	case cfg.Output == "both" && cfg.Filename != "":
		return io.MultiWriter(os.Stdout, fileWriter(cfg.Filename, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress))
	default:
		return os.Stdout
	}
}

// fileWriter returns a file writer with rotation
func fileWriter(filename string, maxSize, maxAge, maxBackups int, compress bool) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   compress,
	}
}

// AuditLogger creates a dedicated logger for settlement audit records.
// Audit output is always JSON and is retained twice as long as the application log.
func AuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	auditLogger := logrus.New()

	auditLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	switch {
	case !cfg.EnableAudit:
		auditLogger.SetOutput(io.Discard)
	case cfg.AuditFile != "":
		auditLogger.SetOutput(fileWriter(cfg.AuditFile, cfg.MaxSize, cfg.MaxAge*2, cfg.MaxBackups*2, cfg.Compress))
	default:
		auditLogger.SetOutput(os.Stdout)
	}

	auditLogger.SetLevel(logrus.InfoLevel)

	return auditLogger
}
