package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(jobTransitions.WithLabelValues("in_progress", "completed"))
	JobTransition("in_progress", "completed")
	require.Equal(t, before+1, testutil.ToFloat64(jobTransitions.WithLabelValues("in_progress", "completed")))

	before = testutil.ToFloat64(accruals.WithLabelValues("hourly", "duplicate"))
	Accrual("hourly", "duplicate")
	require.Equal(t, before+1, testutil.ToFloat64(accruals.WithLabelValues("hourly", "duplicate")))
}
