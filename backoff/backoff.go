// Package backoff provides delay strategies for the job puller's idle
// loop. The puller counts consecutive ticks that claimed nothing and
// sleeps Delay(count) before the next tick; a claim resets the count.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay after consecutive idle ticks.
type Strategy interface {
	// Delay returns how long to wait after the n-th consecutive idle
	// tick (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponential(e.Initial, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// Instances started together then do not scan the bus in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponential(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func exponential(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	if base > math.MaxInt64 {
		base = math.MaxInt64
	}
	return base
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// Idle backoff modes accepted by ForMode.
const (
	ModeExponential = "exponential"
	ModeJitter      = "jitter"
	ModeConstant    = "constant"
)

// Idle returns the puller's default strategy: exponential from scan,
// capped at idle.
func Idle(scan, idle time.Duration) Strategy {
	if idle < scan {
		idle = scan
	}
	return NewExponential(scan, idle)
}

// ForMode returns the idle strategy named by mode. An empty mode is
// ModeExponential. ModeJitter spreads the exponential delays of
// instances started together; ModeConstant always sleeps idle.
func ForMode(mode string, scan, idle time.Duration) (Strategy, error) {
	if idle < scan {
		idle = scan
	}
	switch mode {
	case "", ModeExponential:
		return NewExponential(scan, idle), nil
	case ModeJitter:
		return NewExponentialWithJitter(scan, idle), nil
	case ModeConstant:
		return NewConstant(idle), nil
	default:
		return nil, fmt.Errorf("backoff: unknown idle mode %q", mode)
	}
}
