package queue

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultVisibility         = 30 * time.Second
	DefaultMaxRetries         = 5
	DefaultMaxDeadLetterSweep = 100
)

// DeadLetter routes messages leased more than MaxRetries times to Sink.
type DeadLetter struct {
	Sink       *Queue
	MaxRetries int
}

func (d DeadLetter) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Sink, validation.NotNil),
		validation.Field(&d.MaxRetries, validation.Min(0)),
	)
}

type Config struct {
	// Visibility is the default lease window. Zero means DefaultVisibility.
	Visibility time.Duration
	// Delay is the default enqueue delay.
	Delay      time.Duration
	DeadLetter *DeadLetter
	// MaxDeadLetterSweep caps how many messages one Lease call may divert to
	// the sink before giving up. Zero means DefaultMaxDeadLetterSweep.
	MaxDeadLetterSweep int
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Visibility, validation.Min(time.Duration(0))),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxDeadLetterSweep, validation.Min(0)),
		validation.Field(&c.DeadLetter),
	)
}

func (c Config) withDefaults() Config {
	if c.Visibility == 0 {
		c.Visibility = DefaultVisibility
	}
	if c.MaxDeadLetterSweep == 0 {
		c.MaxDeadLetterSweep = DefaultMaxDeadLetterSweep
	}
	if c.DeadLetter != nil && c.DeadLetter.MaxRetries == 0 {
		dl := *c.DeadLetter
		dl.MaxRetries = DefaultMaxRetries
		c.DeadLetter = &dl
	}
	return c
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type callOptions struct {
	delay      time.Duration
	visibility time.Duration
}

// CallOption overrides a queue default for one call.
type CallOption func(*callOptions)

// WithDelay postpones visibility of enqueued messages by d.
func WithDelay(d time.Duration) CallOption {
	return func(o *callOptions) { o.delay = d }
}

// WithVisibility sets the lease window for Lease and Renew.
func WithVisibility(d time.Duration) CallOption {
	return func(o *callOptions) { o.visibility = d }
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithClock replaces time.Now. All timestamps come from the calling process.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithTokenSource replaces the ack token generator.
func WithTokenSource(next func() string) Option {
	return func(q *Queue) { q.newToken = next }
}
