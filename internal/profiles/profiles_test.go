package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_KnownProfiles(t *testing.T) {
	for _, name := range []Name{Critical, Normal, Background} {
		p, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		assert.Positive(t, p.Bulkhead.MaxConcurrency)
		assert.Positive(t, p.Bulkhead.QueueCapacity)
		assert.Positive(t, p.Bulkhead.WaitTimeout)
		assert.GreaterOrEqual(t, p.Retry.MaxAttempts, 1)
		assert.Positive(t, p.Retry.BaseDelay)
		assert.GreaterOrEqual(t, p.Retry.MaxDelay, p.Retry.BaseDelay)
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("frantic")
	assert.Error(t, err)
}

func TestForService_Bindings(t *testing.T) {
	assert.Equal(t, Critical, ForService("document-analysis").Name)
	assert.Equal(t, Critical, ForService("sii-invoicing").Name)
	assert.Equal(t, Normal, ForService("registry-lookup").Name)
	assert.Equal(t, Background, ForService("storage").Name)
}

func TestForService_DefaultsToNormal(t *testing.T) {
	assert.Equal(t, Normal, ForService("something-new").Name)
}

func TestTiers_Ordered(t *testing.T) {
	critical, _ := Get(Critical)
	normal, _ := Get(Normal)
	background, _ := Get(Background)

	assert.Greater(t, critical.Bulkhead.MaxConcurrency, normal.Bulkhead.MaxConcurrency)
	assert.Greater(t, normal.Bulkhead.MaxConcurrency, background.Bulkhead.MaxConcurrency)
	assert.Greater(t, critical.Retry.MaxAttempts, background.Retry.MaxAttempts)
}
