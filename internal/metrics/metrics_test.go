package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveWorkItem(t *testing.T) {
	before := testutil.ToFloat64(workItemsTotal.WithLabelValues("test-work", "score", "ok"))
	ObserveWorkItem("test-work", "score", "ok")
	if got := testutil.ToFloat64(workItemsTotal.WithLabelValues("test-work", "score", "ok")); got != before+1 {
		t.Errorf("expected work items counter %f, got %f", before+1, got)
	}
}

func TestQueueGauges(t *testing.T) {
	SetQueueDepth("test-queue", 7)
	if got := testutil.ToFloat64(queueDepth.WithLabelValues("test-queue")); got != 7 {
		t.Errorf("expected queue depth 7, got %f", got)
	}
	SetWorkerRunning("test-queue", true)
	if got := testutil.ToFloat64(workerRunning.WithLabelValues("test-queue")); got != 1 {
		t.Errorf("expected worker running 1, got %f", got)
	}
	SetWorkerRunning("test-queue", false)
	if got := testutil.ToFloat64(workerRunning.WithLabelValues("test-queue")); got != 0 {
		t.Errorf("expected worker running 0, got %f", got)
	}
	ObserveQueueRejection("test-queue", "full")
	if got := testutil.ToFloat64(queueRejectionsTotal.WithLabelValues("test-queue", "full")); got != 1 {
		t.Errorf("expected one rejection, got %f", got)
	}
}

func TestObserveScoreAndRateLimit(t *testing.T) {
	ObserveScore("test-score", "ok", 120*time.Millisecond)
	if got := testutil.CollectAndCount(scoreDurationSeconds); got <= 0 {
		t.Errorf("expected score histogram to be observed, got %d", got)
	}
	ObserveRateLimitDelay("test-score", time.Second)
	if got := testutil.CollectAndCount(upstreamRateLimitDelaySeconds); got <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", got)
	}
}
