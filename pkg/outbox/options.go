package outbox

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

type RelayOptions struct {
	PollInterval    time.Duration
	BatchSize       int
	LockTTL         time.Duration
	MaxAttempts     int
	SingleActive    bool
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	LastErrorMaxLen int
	DispatchTimeout time.Duration
	DepthEvery      time.Duration

	Logger logrus.FieldLogger
	Rand   *rand.Rand
}

func (o *RelayOptions) setDefaults() {
	o.PollInterval = orDuration(o.PollInterval, time.Second)
	o.LockTTL = orDuration(o.LockTTL, time.Minute)
	o.MaxBackoff = orDuration(o.MaxBackoff, time.Minute)
	o.JitterMax = orDuration(o.JitterMax, 200*time.Millisecond)
	o.DispatchTimeout = orDuration(o.DispatchTimeout, 30*time.Second)
	o.DepthEvery = orDuration(o.DepthEvery, 10*time.Second)
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 25
	}
	if o.LastErrorMaxLen <= 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
}

type CleanerOptions struct {
	Interval  time.Duration
	Retention time.Duration
	// DeadRetention > 0 also removes rows that exhausted DeadAttempts.
	DeadRetention time.Duration
	DeadAttempts  int

	Logger logrus.FieldLogger
}

func (o *CleanerOptions) setDefaults() {
	o.Interval = orDuration(o.Interval, time.Minute)
	o.Retention = orDuration(o.Retention, 7*24*time.Hour)
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}
