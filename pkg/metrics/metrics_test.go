package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsNamespace(t *testing.T) {
	if Namespace != "elasticjob_master" {
		t.Errorf("expected namespace 'elasticjob_master', got %s", Namespace)
	}
}

func TestNodeCount(t *testing.T) {
	Reset()

	RecordNodeCount("worker", "running", 5)

	metric := &dto.Metric{}
	if err := NodeCount.WithLabelValues("worker", "running").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Gauge.GetValue() != 5 {
		t.Errorf("expected value 5, got %f", metric.Gauge.GetValue())
	}
}

func TestRelaunchTotal(t *testing.T) {
	Reset()

	RecordRelaunch("worker", true, "")
	RecordRelaunch("worker", false, "budget exhausted")
	RecordRelaunch("worker", false, "budget exhausted")

	metric := &dto.Metric{}
	if err := RelaunchTotal.WithLabelValues("worker", "false", "budget exhausted").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("expected value 2, got %f", metric.Counter.GetValue())
	}
}

func TestRecordScalePlan(t *testing.T) {
	Reset()

	RecordScalePlan("event-pipeline", map[string]int{"worker": 2}, map[string]int{"worker": 1})

	metric := &dto.Metric{}
	if err := ScalePlanEmittedTotal.WithLabelValues("event-pipeline").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}

	launched := &dto.Metric{}
	if err := ScalePlanNodesLaunched.WithLabelValues("worker").(prometheus.Histogram).Write(launched); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if launched.Histogram.GetSampleSum() != 2 {
		t.Errorf("expected sum 2, got %f", launched.Histogram.GetSampleSum())
	}
}

func TestEarlyStopTotal(t *testing.T) {
	Reset()

	RecordEarlyStop("PENDING_TIMEOUT")

	metric := &dto.Metric{}
	if err := EarlyStopTotal.WithLabelValues("PENDING_TIMEOUT").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}
}

func TestHangDetectedTotal(t *testing.T) {
	Reset()

	RecordHangDetected("strategy-1")
	RecordHangDetected("strategy-2")

	metric := &dto.Metric{}
	if err := HangDetectedTotal.WithLabelValues("strategy-1").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}
}

func TestWatcherErrorsTotal(t *testing.T) {
	Reset()

	RecordWatcherError("list")
	RecordWatcherError("list")

	metric := &dto.Metric{}
	if err := WatcherErrorsTotal.WithLabelValues("list").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("expected value 2, got %f", metric.Counter.GetValue())
	}
}

func TestEventsDroppedTotal(t *testing.T) {
	Reset()

	RecordEventDropped("modified")

	metric := &dto.Metric{}
	if err := EventsDroppedTotal.WithLabelValues("modified").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}
}

func TestCreateQueueDepth(t *testing.T) {
	Reset()

	RecordCreateQueueDepth(7)

	metric := &dto.Metric{}
	if err := SchedulerCreateQueueDepth.Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Gauge.GetValue() != 7 {
		t.Errorf("expected value 7, got %f", metric.Gauge.GetValue())
	}
}

func TestPodCreateRetriesTotal(t *testing.T) {
	Reset()

	RecordPodCreateRetry("ps")

	metric := &dto.Metric{}
	if err := PodCreateRetriesTotal.WithLabelValues("ps").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}
}

func TestRecordReportedEvent(t *testing.T) {
	Reset()

	RecordReportedEvent("Normal", "ACTION_NOT_RELAUNCH")

	metric := &dto.Metric{}
	if err := ReportedEventsTotal.WithLabelValues("Normal", "ACTION_NOT_RELAUNCH").Write(metric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected value 1, got %f", metric.Counter.GetValue())
	}
}

func TestRegister(t *testing.T) {
	Reset()
	reg := prometheus.NewRegistry()
	Register(reg)
}
