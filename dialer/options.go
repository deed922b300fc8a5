package dialer

import "go.uber.org/zap"

type options struct {
	clock  Clock
	logger *zap.Logger
}

// Option configures a controller.
type Option func(*options)

// WithClock substitutes the time source. Tests use a ManualClock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{
		clock:  NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
