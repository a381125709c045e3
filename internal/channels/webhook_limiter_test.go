package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookRateLimiter_AllowsWithinBudgetThenRejects(t *testing.T) {
	r := NewWebhookRateLimiter()
	for i := 0; i < webhookMaxHits; i++ {
		assert.True(t, r.Allow("1.2.3.4"))
	}
	assert.False(t, r.Allow("1.2.3.4"))
}

func TestWebhookRateLimiter_TracksKeysIndependently(t *testing.T) {
	r := NewWebhookRateLimiter()
	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("b"))
}
