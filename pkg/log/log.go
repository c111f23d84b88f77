package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/types"
)

// Config configures both of certdeploy's logging sinks.
type Config struct {
	AppFilename  string
	AppLevel     types.LogLevel
	SFTPFilename string
	SFTPLevel    types.LogLevel
}

// Sinks holds the two independently-configured loggers C11 requires.
type Sinks struct {
	App  zerolog.Logger
	SFTP zerolog.Logger

	program string // "certdeploy-server" or "certdeploy-client"
}

// Init opens both sinks and returns them. program must be "server" or
// "client"; it selects the ERROR:certdeploy-<program>: log prefix.
func Init(cfg Config, program string) (*Sinks, error) {
	appOut, err := openSink(cfg.AppFilename)
	if err != nil {
		return nil, err
	}
	sftpOut, err := openSink(cfg.SFTPFilename)
	if err != nil {
		return nil, err
	}

	return &Sinks{
		App:     zerolog.New(appOut).Level(zerologLevel(cfg.AppLevel)).With().Timestamp().Logger(),
		SFTP:    zerolog.New(sftpOut).Level(zerologLevel(cfg.SFTPLevel)).With().Timestamp().Logger(),
		program: "certdeploy-" + program,
	}, nil
}

// openSink resolves a configured log path. "/dev/stdout" (also the default,
// empty string) writes to stdout; "/dev/null" discards.
func openSink(path string) (io.Writer, error) {
	switch path {
	case "", "/dev/stdout":
		return os.Stdout, nil
	case "/dev/null":
		return io.Discard, nil
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func zerologLevel(l types.LogLevel) zerolog.Level {
	switch l {
	case types.LogLevelDebug:
		return zerolog.DebugLevel
	case types.LogLevelInfo:
		return zerolog.InfoLevel
	case types.LogLevelWarning:
		return zerolog.WarnLevel
	case types.LogLevelError:
		return zerolog.ErrorLevel
	case types.LogLevelCritical:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Tagged logs err on the App sink at error level with the stable prefix the
// integration tests match: "ERROR:certdeploy-{server,client}:<Kind>: <msg>".
func (s *Sinks) Tagged(err error, msg string) {
	kind := errs.KindOf(err)
	s.App.Error().Err(err).Msgf("ERROR:%s:%s: %s", s.program, kind, msg)
}

// WithComponent returns a child app logger carrying a component field, the
// way the pack's loggers narrow to a subsystem.
func (s *Sinks) WithComponent(component string) zerolog.Logger {
	return s.App.With().Str("component", component).Logger()
}
