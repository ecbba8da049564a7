package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tai-ledger-api/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Init configures the global logrus logger.
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(cfg.Format))
	logrus.SetOutput(output(cfg))
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

func output(cfg config.LoggingConfig) io.Writer {
	if cfg.Filename == "" {
		return os.Stdout
	}
	switch cfg.Output {
	case "file":
		return fileWriter(cfg.Filename, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress)
	case "both":
		return io.MultiWriter(os.Stdout, fileWriter(cfg.Filename, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress))
	default:
		return os.Stdout
	}
}

func fileWriter(filename string, maxSize, maxAge, maxBackups int, compress bool) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   compress,
	}
}

// AuditLogger returns a dedicated JSON logger for admin actions. Audit files
// are retained twice as long as application logs.
func AuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	audit := logrus.New()
	audit.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if cfg.EnableAudit && cfg.AuditFile != "" {
		audit.SetOutput(fileWriter(cfg.AuditFile, cfg.MaxSize, cfg.MaxAge*2, cfg.MaxBackups*2, cfg.Compress))
	} else {
		audit.SetOutput(os.Stdout)
	}
	audit.SetLevel(logrus.InfoLevel)
	return audit
}
