package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// Metrics are global; this only guards against a nil or panicking init.
	assert.NotNil(t, ConversionRequests)
	assert.NotNil(t, ConversionDuration)
	assert.NotNil(t, ConversionContractViolations)
	assert.NotNil(t, SearchRequests)
	assert.NotNil(t, SearchFallbacks)
	assert.NotNil(t, ExportsTotal)
	assert.NotNil(t, StaleResponsesDiscarded)
	assert.NotNil(t, ViewSessionsActive)
	assert.NotNil(t, CacheHits)
	assert.NotNil(t, CacheMisses)
	assert.NotNil(t, CacheErrors)
	assert.NotNil(t, CircuitBreakerState)
}
