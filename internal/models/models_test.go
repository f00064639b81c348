package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityOrderingAndNames(t *testing.T) {
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)

	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(42).String())
}

func TestQueueItemTerminal(t *testing.T) {
	assert.False(t, (&QueueItem{State: StatePending}).Terminal())
	assert.False(t, (&QueueItem{State: StateSyncing}).Terminal())
	assert.True(t, (&QueueItem{State: StateCompleted}).Terminal())
	assert.True(t, (&QueueItem{State: StateFailed}).Terminal())
}

func TestQueueItemExpired(t *testing.T) {
	now := time.Now()
	item := &QueueItem{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, item.Expired(now))
	assert.True(t, item.Expired(now.Add(2*time.Minute)))
}

func TestJwtTokenLifecycle(t *testing.T) {
	now := time.Now()
	tok := &JwtToken{AccessToken: "abc", ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, tok.Expired(now))
	assert.False(t, tok.ShouldRefresh(now, 5*time.Minute))
	assert.True(t, tok.ShouldRefresh(now.Add(6*time.Minute), 5*time.Minute))
	assert.True(t, tok.Expired(now.Add(11*time.Minute)))

	// Zero lead falls back to the default window.
	assert.True(t, tok.ShouldRefresh(now.Add(6*time.Minute), 0))
}
