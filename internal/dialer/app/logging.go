package app

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sebas/dialer/internal/dialer/config"
	"github.com/sebas/dialer/internal/logger"
)

// SetupLogging installs the slog default and points sipgo's zerolog
// output through the same line format. The returned closer releases the
// log file, if any.
func SetupLogging(cfg config.LogConfig) io.Closer {
	outputs := []io.Writer{os.Stdout}
	var file io.WriteCloser
	if cfg.File != "" {
		file = logger.RotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		outputs = append(outputs, file)
	}

	logger.InitLogger(outputs...)
	logger.SetLevel(cfg.Level)

	sipOut := logger.SIPWriter(io.MultiWriter(outputs...))
	log.Logger = zerolog.New(sipOut).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerologLevel(logger.GetLevel()))

	if file == nil {
		return io.NopCloser(nil)
	}
	return file
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
