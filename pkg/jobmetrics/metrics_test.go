package jobmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	duration := timer.Duration()
	if duration < 20*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 20ms", duration)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_jobmetrics_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if timer.Duration() == 0 {
		t.Error("Timer.ObserveDuration() recorded zero duration")
	}

	var m dto.Metric
	if err := histogram.Write(&m); err != nil {
		t.Fatalf("histogram.Write() error = %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("histogram sample count = %d, want 1", got)
	}
	if got := m.GetHistogram().GetSampleSum(); got < 0.01 {
		t.Errorf("histogram sample sum = %v, want >= 0.01", got)
	}
}

func TestHandlerNotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
