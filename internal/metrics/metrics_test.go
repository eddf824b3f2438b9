package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLookups_Increment(t *testing.T) {
	c := CacheLookups.WithLabelValues("search", TierFast, OutcomeHit)
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestMetricGathering(t *testing.T) {
	Recommendations.WithLabelValues("ok", "cache").Inc()
	RecommendationDuration.Observe(0.2)

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
