package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSetQueueDepth(t *testing.T) {
	t.Parallel()

	p := New()
	p.SetQueueDepth(7)
	require.Equal(t, float64(7), testutil.ToFloat64(p.queueDepth))
}

func TestPrometheusObserveQueueWaitRecordsToHistogram(t *testing.T) {
	t.Parallel()

	p := New()
	p.ObserveQueueWait(2 * time.Second)
	require.Equal(t, 1, testutil.CollectAndCount(p.queueWait))
}

func TestPrometheusIncStepCompletionLabelsByStatus(t *testing.T) {
	t.Parallel()

	p := New()
	p.IncStepCompletion("success")
	p.IncStepCompletion("success")
	p.IncStepCompletion("failure")

	require.Equal(t, float64(2), testutil.ToFloat64(p.stepCompletions.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(p.stepCompletions.WithLabelValues("failure")))
}

func TestPrometheusObserveVMBootDurationRecordsToHistogram(t *testing.T) {
	t.Parallel()

	p := New()
	p.ObserveVMBootDuration(500 * time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(p.vmBootDuration))
}

func TestNopSinkDiscardsEverything(t *testing.T) {
	t.Parallel()

	var s Sink = Nop{}
	s.SetQueueDepth(5)
	s.ObserveQueueWait(time.Second)
	s.IncStepCompletion("success")
	s.ObserveVMBootDuration(time.Second)
}
