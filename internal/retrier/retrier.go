// Package retrier retries transient failures with capped, jittered backoff.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Exponential multiplies the base delay by Factor^attempt.
	Exponential Strategy = iota
	// Linear grows the delay by one base delay per attempt.
	Linear
	// Fibonacci follows the Fibonacci sequence seeded with the base delay.
	Fibonacci
)

var strategyNames = map[string]Strategy{
	"exponential": Exponential,
	"linear":      Linear,
	"fibonacci":   Fibonacci,
}

// ParseStrategy maps a config name to a Strategy. An empty name means Exponential.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return Exponential, nil
	}
	s, ok := strategyNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown retry strategy %q", name)
	}
	return s, nil
}

func (s Strategy) String() string {
	for name, v := range strategyNames {
		if v == s {
			return name
		}
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// Settings describes how a Retrier spaces its attempts.
type Settings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
	Strategy    Strategy
}

func (s Settings) validate() error {
	switch {
	case s.MaxAttempts < 1:
		return ErrInvalidMaxAttempts
	case s.BaseDelay < time.Millisecond:
		return ErrInvalidBaseDelay
	case s.Factor < 1:
		return ErrInvalidFactor
	case s.Jitter < 0 || s.Jitter > 1:
		return ErrInvalidJitter
	}
	return nil
}

// Retrier runs a function until it succeeds, fails permanently or runs out of attempts.
type Retrier struct {
	settings  Settings
	retryable func(error) bool

	rngMu sync.Mutex
	rng   *rand.Rand

	fibMu sync.Mutex
	fib   []time.Duration

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// New creates a new Retrier. retryable decides which errors get another attempt; IsTemporary is used when nil.
func New(s Settings, retryable func(error) bool) (*Retrier, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.MaxDelay < s.BaseDelay {
		s.MaxDelay = s.BaseDelay
	}
	if retryable == nil {
		retryable = IsTemporary
	}

	return &Retrier{
		settings:  s,
		retryable: retryable,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		fib:       []time.Duration{s.BaseDelay, s.BaseDelay},
	}, nil
}

// Run calls fn until it returns nil or a non-retryable error. The wait between attempts honours ctx.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.settings.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		if attempt == r.settings.MaxAttempts-1 {
			break
		}

		delay := r.Backoff(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// Backoff returns the jittered delay after the given zero-based attempt, capped at MaxDelay before jitter.
func (r *Retrier) Backoff(attempt int) time.Duration {
	s := r.settings

	var delay float64
	switch s.Strategy {
	case Linear:
		delay = float64(s.BaseDelay) * float64(attempt+1)
	case Fibonacci:
		delay = float64(r.fibonacci(attempt))
	default:
		delay = float64(s.BaseDelay) * math.Pow(s.Factor, float64(attempt))
	}
	delay = math.Min(delay, float64(s.MaxDelay))

	if s.Jitter > 0 {
		r.rngMu.Lock()
		delay += r.rng.Float64() * s.Jitter * delay
		r.rngMu.Unlock()
	}
	return time.Duration(delay)
}

func (r *Retrier) fibonacci(attempt int) time.Duration {
	r.fibMu.Lock()
	defer r.fibMu.Unlock()

	for len(r.fib) <= attempt {
		n := len(r.fib)
		r.fib = append(r.fib, min(r.fib[n-1]+r.fib[n-2], r.settings.MaxDelay))
	}
	return r.fib[attempt]
}
