// Package logging sets up the single logrus logger instance a driver run
// threads through every component.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// TraceDataLevel is a level below logrus.DebugLevel reserved for the very
// high-volume raw-branch stream. It mirrors the reference implementation's
// separate machine-readable log level for the same data, without adopting
// its line format. No component logs at this level.
const TraceDataLevel = logrus.TraceLevel

// New builds the logger entry for one driver run, with the fuzzer id and
// mode attached as fields once so every downstream log line carries them.
func New(out io.Writer, fuzzerID, mode string, verbose, quiet bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch {
	case verbose:
		l.SetLevel(logrus.DebugLevel)
	case quiet:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l.WithFields(logrus.Fields{
		"fuzzer_id": fuzzerID,
		"mode":      mode,
	})
}
