// Package ratelog wraps a logrus logger with a token-bucket rate limit.
// Repeated failures on a hot path (e.g. an unreadable backing store hit on
// every lookup) would otherwise storm the log; suppressed events are counted
// and reported with the next emitted line.
package ratelog

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Logger emits at most one event per interval (plus burst) and accounts
// suppressed events. Safe for concurrent use.
type Logger struct {
	log        logrus.FieldLogger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// New builds a limited logger emitting at most one event per interval with
// the given burst.
func New(log logrus.FieldLogger, interval time.Duration, burst int) *Logger {
	if burst < 1 {
		burst = 1
	}
	return &Logger{
		log: log,
		lim: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Errorf logs at error level if the limiter admits the event, otherwise
// counts it as suppressed. The first admitted event after a suppression
// streak carries a "suppressed" field with the streak length.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if !l.lim.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		l.log.WithField("suppressed", n).Errorf(format, args...)
		return
	}
	l.log.Errorf(format, args...)
}

// Suppressed returns the number of events dropped since the last emitted
// line. Exposed for tests.
func (l *Logger) Suppressed() uint64 { return l.suppressed.Load() }
