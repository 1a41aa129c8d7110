package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_BurstThenDeny(t *testing.T) {
	l := NewLimiter()
	rule := Rule{Name: "t", Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(rule), "action %d should be allowed", i)
	}
	assert.False(t, l.Allow(rule))
}

func TestAllow_RulesAreIndependent(t *testing.T) {
	l := NewLimiter()
	a := Rule{Name: "a", Limit: 1, Window: time.Hour}
	b := Rule{Name: "b", Limit: 1, Window: time.Hour}

	assert.True(t, l.Allow(a))
	assert.False(t, l.Allow(a))
	assert.True(t, l.Allow(b))
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(RuleSend))
	}
	require.NoError(t, l.Wait(context.Background(), RuleReconnect))
}

func TestUnboundedRule(t *testing.T) {
	l := NewLimiter()
	rule := Rule{Name: "free"}
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(rule))
	}
}

func TestWait_RespectsContext(t *testing.T) {
	l := NewLimiter()
	rule := Rule{Name: "slow", Limit: 1, Window: time.Hour}
	require.True(t, l.Allow(rule))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, rule))
}
