package feindexer

import (
	"io"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Statter is the interface that stats collectors must implement to get stats
// out of an indexer run.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// StatsdStatter sends stats to a dogstatsd agent. Send errors are dropped;
// stats are best effort.
type StatsdStatter struct {
	client *statsd.Client
}

// NewStatsdStatter returns a Statter which sends to the statsd agent at addr,
// prefixing every metric with namespace.
func NewStatsdStatter(addr, namespace string) (*StatsdStatter, error) {
	c, err := statsd.New(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to statsd at %s", addr)
	}
	c.Namespace = namespace
	return &StatsdStatter{client: c}, nil
}

// Count implements Statter.
func (s *StatsdStatter) Count(name string, value int64, rate float64, tags ...string) {
	_ = s.client.Count(name, value, tags, rate)
}

// Gauge implements Statter.
func (s *StatsdStatter) Gauge(name string, value float64, rate float64, tags ...string) {
	_ = s.client.Gauge(name, value, tags, rate)
}

// Histogram implements Statter.
func (s *StatsdStatter) Histogram(name string, value float64, rate float64, tags ...string) {
	_ = s.client.Histogram(name, value, tags, rate)
}

// Set implements Statter.
func (s *StatsdStatter) Set(name string, value string, rate float64, tags ...string) {
	_ = s.client.Set(name, value, tags, rate)
}

// Timing implements Statter.
func (s *StatsdStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	_ = s.client.Timing(name, value, tags, rate)
}

// Close flushes and closes the statsd client.
func (s *StatsdStatter) Close() error {
	return s.client.Close()
}

// Logger is the interface that loggers must implement to get indexer logs.
type Logger interface {
	Printf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	WithField(key string, value interface{}) Logger
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Warnf does nothing.
func (NopLogger) Warnf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// WithField returns the NopLogger.
func (n NopLogger) WithField(key string, value interface{}) Logger { return n }

// entryLogger adapts a logrus entry to Logger.
type entryLogger struct {
	*logrus.Entry
}

// NewLogger returns a Logger writing text lines to out. Debugf output is only
// written when verbose is set.
func NewLogger(out io.Writer, verbose bool) Logger {
	l := logrus.New()
	l.Out = out
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
	l.Level = logrus.InfoLevel
	if verbose {
		l.Level = logrus.DebugLevel
	}
	return entryLogger{logrus.NewEntry(l)}
}

// Printf implements Logger.
func (e entryLogger) Printf(format string, v ...interface{}) { e.Entry.Infof(format, v...) }

// Warnf implements Logger.
func (e entryLogger) Warnf(format string, v ...interface{}) { e.Entry.Warnf(format, v...) }

// Debugf implements Logger.
func (e entryLogger) Debugf(format string, v ...interface{}) { e.Entry.Debugf(format, v...) }

// WithField implements Logger.
func (e entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{e.Entry.WithField(key, value)}
}
