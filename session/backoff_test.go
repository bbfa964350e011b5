package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicyDelays(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 60*time.Second, p.Delay(7))
	assert.Equal(t, 60*time.Second, p.Delay(5000))
}

func TestDelayIsMonotonicAndBounded(t *testing.T) {
	policies := []Policy{
		DefaultPolicy(),
		{MaxRetries: 20, InitialDelay: 250 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 1.5},
		{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 3},
		{MaxRetries: 10, InitialDelay: 0, MaxDelay: time.Second, Multiplier: 2},
	}
	for _, p := range policies {
		prev := time.Duration(0)
		for attempt := 1; attempt <= p.MaxRetries; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, p.MaxDelay)
			prev = d
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{MaxRetries: 0, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxRetries: 1, InitialDelay: -time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxRetries: 1, InitialDelay: 2 * time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 0.5},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}
