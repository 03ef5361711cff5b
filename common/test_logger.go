package common

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// testLoggerAdapter routes logrus output through testing.T.Log so that
// output only appears for failed tests.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	if len(d) > 0 && d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	if a.prefix != "" {
		l := a.prefix + ": " + string(d)
		a.t.Log(l)
		return len(l), nil
	}
	a.t.Log(string(d))
	return len(d), nil
}

// NewTestLogger returns a logger whose output is routed into the test log.
func NewTestLogger(t testing.TB) *logrus.Entry {
	logger := logrus.New()
	logger.Out = &testLoggerAdapter{t: t}
	logger.Level = logrus.DebugLevel
	return logrus.NewEntry(logger)
}
