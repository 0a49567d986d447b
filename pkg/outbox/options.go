package outbox

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
)

const (
	DefaultPollInterval    = time.Second
	DefaultBatchSize       = 100
	DefaultLockTTL         = time.Minute
	DefaultMaxAttempts     = 25
	DefaultCleanerInterval = time.Minute
	// DefaultRetention keeps delivered request events for a week so support
	// can correlate notifications with audit entries.
	DefaultRetention = 7 * 24 * time.Hour
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

	// ObserveQueueDepthEvery controls how often the pending/locked gauges refresh.
	ObserveQueueDepthEvery time.Duration

	Logger *logrus.Entry
	Rand   *rand.Rand
}

func (o *RelayOptions) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.JitterMax <= 0 {
		o.JitterMax = 200 * time.Millisecond
	}
	if o.LastErrorMaxLen <= 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 30 * time.Second
	}
	if o.ObserveQueueDepthEvery <= 0 {
		o.ObserveQueueDepthEvery = 10 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

type CleanerOptions struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration

	// DeadRetention purges exhausted rows older than this. Zero keeps them
	// for manual inspection.
	DeadRetention         time.Duration
	DeadAttemptsThreshold int

	Logger *logrus.Entry
}

func (o *CleanerOptions) normalize() error {
	if o.Interval <= 0 {
		o.Interval = DefaultCleanerInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.DeadRetention > 0 && o.DeadAttemptsThreshold <= 0 {
		return invalidConfig("dead retention requires DeadAttemptsThreshold > 0")
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return nil
}
