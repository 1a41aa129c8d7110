// Package ratelimit provides client-side throttling with token buckets. It
// keeps the client under the server's own per-session limits and paces
// reconnect attempts so a flapping connection does not hammer the server.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule defines a throttling policy: at most Limit actions per Window, with
// bursts of up to Limit.
type Rule struct {
	Name   string        // bucket key, e.g. "send", "reconnect"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard client rules.
var (
	// RuleSend allows 5 messages per 10 seconds, matching the server.
	RuleSend = Rule{Name: "send", Limit: 5, Window: 10 * time.Second}

	// RuleReconnect allows 5 reconnect attempts per minute.
	RuleReconnect = Rule{Name: "reconnect", Limit: 5, Window: 1 * time.Minute}
)

// Limiter holds one token bucket per rule name. A nil *Limiter allows
// everything.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates an empty Limiter. Buckets are created lazily on first
// use of a rule.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether an action governed by rule may happen now, and
// consumes a token if so.
func (l *Limiter) Allow(rule Rule) bool {
	if l == nil {
		return true
	}
	return l.bucket(rule).Allow()
}

// Wait blocks until an action governed by rule may happen or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rule Rule) error {
	if l == nil {
		return ctx.Err()
	}
	return l.bucket(rule).Wait(ctx)
}

func (l *Limiter) bucket(rule Rule) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[rule.Name]
	if !ok {
		b = rate.NewLimiter(ruleRate(rule), rule.Limit)
		l.buckets[rule.Name] = b
	}
	return b
}

func ruleRate(rule Rule) rate.Limit {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(rule.Limit) / rule.Window.Seconds())
}
