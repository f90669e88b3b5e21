// Package ratelimit implements adaptive per-domain request pacing with
// exponential backoff and gradual recovery.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wildtrace/tigerwatch/internal/metrics"
)

// Backoff adjustment factors. Throttling responses double the interval,
// other server errors grow it more gently, successes decay it back
// toward the base interval.
const (
	throttleFactor  = 2.0
	serverErrFactor = 1.5
	successDecay    = 0.9
)

// Config holds rate limiter configuration.
type Config struct {
	// BaseInterval is the minimum spacing between requests to one
	// domain when no backoff is in effect.
	BaseInterval time.Duration
	// MaxBackoff caps the effective interval (base × multiplier).
	MaxBackoff time.Duration
}

type domainState struct {
	limiter      *rate.Limiter
	multiplier   float64
	requestCount int64
}

// Limiter manages per-domain pacing state. All state lives for the
// process lifetime and is only mutated through the Limiter's methods.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	base    time.Duration
	maxMult float64
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseInterval {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Limiter{
		domains: make(map[string]*domainState),
		base:    cfg.BaseInterval,
		maxMult: float64(cfg.MaxBackoff) / float64(cfg.BaseInterval),
	}
}

// WaitForSlot blocks until enough time has elapsed since the last
// request to the URL's domain, where the required interval is
// base × the domain's current backoff multiplier. The only error it
// can return is context cancellation.
func (l *Limiter) WaitForSlot(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	state := l.state(domain)

	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, delay)
	}

	l.mu.Lock()
	state.requestCount++
	l.mu.Unlock()
	return nil
}

// ReportError grows the domain's backoff. Throttling status codes
// (429, 503, 520-524) double the multiplier; other 5xx responses and
// transport-level failures (status <= 0) grow it by 1.5. Anything else
// leaves the state alone.
func (l *Limiter) ReportError(rawURL string, statusCode int) {
	var factor float64
	switch {
	case isThrottleStatus(statusCode):
		factor = throttleFactor
	case statusCode >= 500 || statusCode <= 0:
		factor = serverErrFactor
	default:
		return
	}
	l.adjust(domainOf(rawURL), factor)
}

// ReportSuccess decays the domain's backoff toward 1.0.
func (l *Limiter) ReportSuccess(rawURL string) {
	l.adjust(domainOf(rawURL), successDecay)
}

// Multiplier returns the current backoff multiplier for the URL's
// domain, for observability and tests.
func (l *Limiter) Multiplier(rawURL string) float64 {
	state := l.state(domainOf(rawURL))
	l.mu.Lock()
	defer l.mu.Unlock()
	return state.multiplier
}

// RequestCount returns the number of slots granted for the URL's domain.
func (l *Limiter) RequestCount(rawURL string) int64 {
	state := l.state(domainOf(rawURL))
	l.mu.Lock()
	defer l.mu.Unlock()
	return state.requestCount
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.domains[domain]
	if !ok {
		state = &domainState{
			limiter:    rate.NewLimiter(rate.Every(l.base), 1),
			multiplier: 1.0,
		}
		l.domains[domain] = state
	}
	return state
}

func (l *Limiter) adjust(domain string, factor float64) {
	state := l.state(domain)
	l.mu.Lock()
	defer l.mu.Unlock()

	state.multiplier *= factor
	if state.multiplier > l.maxMult {
		state.multiplier = l.maxMult
	}
	if state.multiplier < 1.0 {
		state.multiplier = 1.0
	}
	interval := time.Duration(float64(l.base) * state.multiplier)
	state.limiter.SetLimit(rate.Every(interval))
}

func isThrottleStatus(statusCode int) bool {
	if statusCode == 429 || statusCode == 503 {
		return true
	}
	return statusCode >= 520 && statusCode <= 524
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
