package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/lumberjack/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects level, format and the optional log file sink.
type Options struct {
	Level  string
	Format string
	// File is the rotated log file path; empty disables it.
	File string
	// Out defaults to os.Stdout.
	Out io.Writer
}

// InitFromEnv configures zerolog using env vars.
// - LOG_LEVEL  : trace|debug|info|warn|error (default: info)
// - LOG_FORMAT : json|console                (default: json)
// - LOG_FILE   : path of the rotated log file (default: defaultFile, "off" disables)
func InitFromEnv(defaultFile string) io.Closer {
	file := getenv("LOG_FILE", defaultFile)
	if strings.EqualFold(file, "off") {
		file = ""
	}
	return Init(Options{
		Level:  getenv("LOG_LEVEL", "info"),
		Format: getenv("LOG_FORMAT", "json"),
		File:   file,
	})
}

// Init installs the global logger. The returned Closer flushes the file sink.
func Init(opts Options) io.Closer {
	// Always use UTC timestamps in RFC3339.
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.ToLower(opts.Format) == "console" {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = opts.Out
			if w.Out == nil {
				w.Out = os.Stdout
			}
			w.TimeFormat = time.RFC3339
		})
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err == nil {
			// The file always gets JSON so it stays machine-readable.
			lj := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     30, // days
			}
			out = zerolog.MultiLevelWriter(out, lj)
			closer = lj
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

// ParseLevel maps a level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// getenv returns the env var value if set and non-empty, otherwise def.
func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
