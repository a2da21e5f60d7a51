// Package logrus adapts a logrus entry to the taskpilot log.Logger interface.
package logrus

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/harrison/taskpilot/internal/log"
)

type logger struct {
	*logrus.Entry
}

// NewLogrus returns a new log.Logger for a logrus implementation.
func NewLogrus(l *logrus.Entry) log.Logger {
	return logger{Entry: l}
}

func (l logger) WithValues(kv log.Kv) log.Logger {
	newLogger := l.Entry.WithFields(kv)
	return NewLogrus(newLogger)
}

func (l logger) WithCtxValues(ctx context.Context) log.Logger {
	return l.WithValues(log.ValuesFromCtx(ctx))
}

func (l logger) SetValuesOnCtx(parent context.Context, values log.Kv) context.Context {
	return log.CtxWithValues(parent, values)
}

// Format is the output encoding of the logger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configure New.
type Options struct {
	Out    io.Writer
	Level  string
	Format Format
	// NoColor disables colors even when Out is a terminal.
	NoColor bool
}

// New builds a ready to use log.Logger writing to opts.Out (stderr by default).
// Unknown levels fall back to info.
func New(opts Options) log.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	l := logrus.New()
	l.Out = out

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch opts.Format {
	case FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		colors := !opts.NoColor && isTerminal(out)
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   colors,
			DisableColors: !colors,
			FullTimestamp: true,
		})
	}

	return NewLogrus(logrus.NewEntry(l))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
