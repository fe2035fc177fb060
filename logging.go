package crust

import (
	"io"
	"os"
	"path"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the root logger from the logging configuration. Console
// output goes to console, or stdout when nil. The returned closer flushes the
// log file, if any.
func NewLogger(configuration LoggingConfiguration, console io.Writer) (zerolog.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stdout
	}

	level := zerolog.InfoLevel

	if configuration.Level != "" {
		parsed, err := zerolog.ParseLevel(configuration.Level)
		if err != nil {
			return zerolog.Nop(), nil, err
		}

		level = parsed
	}

	var writers []io.Writer

	if configuration.ConsoleLoggingEnabled {
		if configuration.EncodeAsJSON {
			writers = append(writers, console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"})
		}
	}

	var closer io.Closer = io.NopCloser(nil)

	if configuration.FileLoggingEnabled {
		if err := os.MkdirAll(configuration.Directory, 0o744); err != nil {
			return zerolog.Nop(), nil, err
		}

		rotating := &lumberjack.Logger{
			Filename:   path.Join(configuration.Directory, configuration.Filename),
			MaxBackups: configuration.MaxBackups,
			MaxSize:    configuration.MaxSize,
			MaxAge:     configuration.MaxAge,
			Compress:   configuration.Compress,
		}

		writers = append(writers, rotating)
		closer = rotating
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}
