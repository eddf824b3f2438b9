package resilience

import "time"

// RetrySettings are the user-facing retry knobs. Zero fields keep the
// DefaultPolicy values; a negative Jitter picks the default fraction.
type RetrySettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// Policy builds an exponential-backoff Policy that retries transient errors.
func (s RetrySettings) Policy() Policy {
	p := DefaultPolicy()
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	initial := orDuration(s.InitialBackoff, 500*time.Millisecond)
	ceiling := orDuration(s.MaxBackoff, 30*time.Second)
	mult := s.Multiplier
	if mult <= 0 {
		mult = 2
	}
	jitter := s.Jitter
	if jitter < 0 {
		jitter = 0.25
	}
	p.Backoff = ExponentialBackoff(initial, ceiling, mult, jitter)
	return p
}

// CircuitSettings are the user-facing breaker knobs. Zero fields keep the
// DefaultCircuitBreakerConfig values.
type CircuitSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

func (s CircuitSettings) Config() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = uint32(s.FailureThreshold)
	}
	cfg.ResetTimeout = orDuration(s.ResetTimeout, cfg.ResetTimeout)
	return cfg
}

func orDuration(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
