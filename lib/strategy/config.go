package strategy

import (
	"fmt"
	"time"
)

// Config is the serialized form of one strategy in the chain.
type Config struct {
	Kind                   string  `toml:"kind" yaml:"kind"`
	TimeoutMillis          int64   `toml:"timeout_millis" yaml:"timeout_millis"`
	RetryAttempts          int     `toml:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	RetryIntervalMillis    int64   `toml:"retry_interval_millis,omitempty" yaml:"retry_interval_millis,omitempty"`
	RetryBackoff           string  `toml:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty"`
	MaxRetryIntervalMillis int64   `toml:"max_retry_interval_millis,omitempty" yaml:"max_retry_interval_millis,omitempty"`
	IncrementSize          int     `toml:"increment_size,omitempty" yaml:"increment_size,omitempty"`
	MaxOverflowSize        int     `toml:"max_overflow_size,omitempty" yaml:"max_overflow_size,omitempty"`
	Rate                   float64 `toml:"rate,omitempty" yaml:"rate,omitempty"`
	Burst                  int     `toml:"burst,omitempty" yaml:"burst,omitempty"`
}

func millis(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Factory returns the strategy factory described by c.
func (c Config) Factory() (Factory, error) {
	if c.TimeoutMillis < 0 {
		return nil, configError(c.Kind, "timeout_millis must not be negative")
	}

	switch c.Kind {
	case KindRetry:
		rc := RetryConfig{
			Timeout:       millis(c.TimeoutMillis),
			RetryAttempts: c.RetryAttempts,
			Interval:      millis(c.RetryIntervalMillis),
			Backoff:       c.RetryBackoff,
			MaxInterval:   millis(c.MaxRetryIntervalMillis),
		}
		if err := rc.validate(); err != nil {
			return nil, err
		}
		return NewRetry(rc), nil
	case KindIncrementPoolOnTimeout:
		ic := IncrementPoolConfig{
			Timeout:         millis(c.TimeoutMillis),
			IncrementSize:   c.IncrementSize,
			MaxOverflowSize: c.MaxOverflowSize,
		}
		if err := ic.validate(); err != nil {
			return nil, err
		}
		return NewIncrementPoolOnTimeout(ic), nil
	case KindThrottle:
		tc := ThrottleConfig{
			Timeout: millis(c.TimeoutMillis),
			Rate:    c.Rate,
			Burst:   c.Burst,
		}
		if err := tc.validate(); err != nil {
			return nil, err
		}
		return NewThrottle(tc), nil
	default:
		return nil, configError("strategy", "unknown kind %q", c.Kind)
	}
}

// FromConfig returns the factories for a configured chain, in order.
func FromConfig(cfgs []Config) ([]Factory, error) {
	if len(cfgs) == 0 {
		return nil, configError("strategy", "at least one strategy is required")
	}
	factories := make([]Factory, 0, len(cfgs))
	for i, c := range cfgs {
		f, err := c.Factory()
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		factories = append(factories, f)
	}
	return factories, nil
}
