package log

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias for structured log fields.
type Fields = logrus.Fields

// Config controls the global logger output.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // text or json
	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

var globalLogger = logrus.New()

func init() {
	_ = InitGlobalLogger(DefaultConfig())
}

// InitGlobalLogger configures the process-wide logger. When FilePath is set
// the output is rotated via lumberjack and mirrored to stderr.
func InitGlobalLogger(conf *Config) error {
	if conf == nil {
		conf = DefaultConfig()
	}

	level, err := logrus.ParseLevel(conf.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	globalLogger.SetLevel(level)

	if strings.EqualFold(conf.Format, "json") {
		globalLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		globalLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if conf.FilePath != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   conf.FilePath,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
			Compress:   true,
		})
	}
	globalLogger.SetOutput(out)
	return nil
}

// GlobalLogger exposes the underlying logrus logger.
func GlobalLogger() *logrus.Logger {
	return globalLogger
}

// SetGlobalLogger swaps the process-wide logger, mainly for tests.
func SetGlobalLogger(l *logrus.Logger) {
	globalLogger = l
}

func WithField(key string, value interface{}) *logrus.Entry {
	return globalLogger.WithField(key, value)
}

func WithFields(fields Fields) *logrus.Entry {
	return globalLogger.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return globalLogger.WithError(err)
}

func Trace(args ...interface{}) { globalLogger.Trace(args...) }

func Tracef(template string, args ...interface{}) { globalLogger.Tracef(template, args...) }

func Debug(args ...interface{}) { globalLogger.Debug(args...) }

func Debugf(template string, args ...interface{}) { globalLogger.Debugf(template, args...) }

func Info(args ...interface{}) { globalLogger.Info(args...) }

func Infof(template string, args ...interface{}) { globalLogger.Infof(template, args...) }

func Warn(args ...interface{}) { globalLogger.Warn(args...) }

func Warnf(template string, args ...interface{}) { globalLogger.Warnf(template, args...) }

func Error(args ...interface{}) { globalLogger.Error(args...) }

func Errorf(template string, args ...interface{}) { globalLogger.Errorf(template, args...) }

func Fatal(args ...interface{}) { globalLogger.Fatal(args...) }

func Fatalf(template string, args ...interface{}) { globalLogger.Fatalf(template, args...) }
