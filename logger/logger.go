package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"StoryboardVideo-server/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

var (
	std  = logrus.New()
	once sync.Once
)

// Init configures the shared logger from cfg. Later calls are ignored.
func Init(cfg *config.Config) {
	once.Do(func() {
		configure(std, cfg)
	})
}

func configure(l *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}
	l.SetOutput(out)
}

func L() *logrus.Logger {
	return std
}

// Component returns an entry tagged with the component name, e.g. "generator".
func Component(name string) *logrus.Entry {
	return std.WithField("component", name)
}

// Discard is for tests that do not care about log output.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
