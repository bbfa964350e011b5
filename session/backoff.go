package session

import (
	"errors"
	"math"
	"time"
)

// Default reconnect policy values.
const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
)

// Policy controls connection retries. MaxRetries is the total number of
// attempts made by one Connect call.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns the standard reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 1:
		return errors.New("reconnect policy: max retries must be at least 1")
	case p.InitialDelay < 0:
		return errors.New("reconnect policy: initial delay cannot be negative")
	case p.MaxDelay < p.InitialDelay:
		return errors.New("reconnect policy: max delay must not be below initial delay")
	case p.Multiplier < 1:
		return errors.New("reconnect policy: multiplier must be at least 1")
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based):
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
