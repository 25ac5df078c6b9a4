// Package retry provides the retry policies used when a stage acquires an
// external resource, such as the durable log file.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jzx17/triageflow/pkg/types"
)

// Policy defines the retry strategy interface
type Policy interface {
	// ShouldRetry determines whether attempt (1-based) may be followed by another
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the delay before the next attempt
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of attempts
	MaxAttempts() int
}

// Condition decides whether an error is worth retrying
type Condition func(error) bool

// basePolicy provides the shared attempt limit, condition and jitter
type basePolicy struct {
	maxAttempts  int
	condition    Condition
	jitter       bool
	jitterFactor float64
	mu           sync.Mutex
	rng          *rand.Rand
}

func newBasePolicy(maxAttempts int, opts ...Option) *basePolicy {
	p := &basePolicy{
		maxAttempts:  maxAttempts,
		condition:    DefaultCondition,
		jitterFactor: 0.1,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldRetry implements Policy
func (p *basePolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return p.condition(err)
}

// MaxAttempts implements Policy
func (p *basePolicy) MaxAttempts() int {
	return p.maxAttempts
}

// applyJitter spreads delay by up to +/- jitterFactor
func (p *basePolicy) applyJitter(delay time.Duration) time.Duration {
	if !p.jitter {
		return delay
	}

	p.mu.Lock()
	r := p.rng.Float64()
	p.mu.Unlock()

	jitterRange := float64(delay) * p.jitterFactor
	result := delay + time.Duration((r-0.5)*2*jitterRange)
	if result < 0 {
		result = delay / 2
	}
	return result
}

// FixedDelay retries with a constant delay
type FixedDelay struct {
	*basePolicy
	delay time.Duration
}

// NewFixedDelay creates a fixed delay policy
func NewFixedDelay(maxAttempts int, delay time.Duration, opts ...Option) *FixedDelay {
	return &FixedDelay{
		basePolicy: newBasePolicy(maxAttempts, opts...),
		delay:      delay,
	}
}

// NextDelay implements Policy
func (p *FixedDelay) NextDelay(attempt int) time.Duration {
	return p.applyJitter(p.delay)
}

// ExponentialBackoff doubles the delay on every attempt up to maxDelay
type ExponentialBackoff struct {
	*basePolicy
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
}

// NewExponentialBackoff creates an exponential backoff policy
func NewExponentialBackoff(maxAttempts int, initialDelay, maxDelay time.Duration, opts ...Option) *ExponentialBackoff {
	return &ExponentialBackoff{
		basePolicy:   newBasePolicy(maxAttempts, opts...),
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     maxDelay,
	}
}

// NextDelay implements Policy
func (p *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1)))
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return p.applyJitter(delay)
}

// Never makes a single attempt
func Never() Policy {
	return NewFixedDelay(1, 0)
}

// Option configures a policy
type Option func(*basePolicy)

// WithCondition sets the retry condition
func WithCondition(condition Condition) Option {
	return func(p *basePolicy) {
		p.condition = condition
	}
}

// WithJitter enables jitter
func WithJitter(factor float64) Option {
	return func(p *basePolicy) {
		p.jitter = true
		if factor > 0 && factor <= 1.0 {
			p.jitterFactor = factor
		}
	}
}

// DefaultCondition retries everything except cancellation
func DefaultCondition(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || types.IsInterrupted(err) {
		return false
	}
	return true
}
