package eventqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_DelayGrowsExponentially(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: time.Hour}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestBackoffPolicy_DelayCapsAtMax(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: 5 * time.Second}

	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestBackoffPolicy_JitterStaysWithinSpread(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: time.Hour, Jitter: 0.1}

	for i := 0; i < 50; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestBackoffPolicy_AttemptBelowOneTreatedAsOne(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: time.Hour}

	assert.Equal(t, p.Delay(1), p.Delay(0))
}

func TestBackoffPolicy_NextRetryAtAddsDelay(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Factor: 2, Max: time.Hour}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := p.NextRetryAt(now, 2)
	assert.Equal(t, now.Add(2*time.Second), got)
}
