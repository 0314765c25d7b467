package degradation

import (
	"context"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
)

// MockTranscriberForDegradation is a thread-safe mock transcriber for degradation testing.
type MockTranscriberForDegradation struct {
	name    string
	healthy bool
	mu      sync.RWMutex
}

func (m *MockTranscriberForDegradation) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	return &whisper.TranscriptionResult{
		Text:     "transcribed by " + m.name,
		Segments: []whisper.TranscriptionSegment{},
		Language: "en",
		Duration: 1.0,
	}, nil
}

func (m *MockTranscriberForDegradation) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy, nil
}

func (m *MockTranscriberForDegradation) Name() string {
	return m.name
}

func (m *MockTranscriberForDegradation) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func degradedGauge(t *testing.T) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := metrics.TranscriberDegraded.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

// TestDegradationController tests automatic degradation logic.
func TestDegradationController(t *testing.T) {
	t.Run("initial state uses primary transcriber", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: true}
		fallback := &MockTranscriberForDegradation{name: "fallback", healthy: true}

		hc := health.NewHealthChecker(primary, 1*time.Hour, 3)
		controller := NewDegradationController(primary, fallback, hc)

		if name := controller.GetTranscriber().Name(); name != "primary" {
			t.Errorf("Initial transcriber = %q, want %q", name, "primary")
		}
		if controller.IsDegraded() {
			t.Error("Initial state should not be degraded")
		}
		if controller.Primary().Name() != "primary" {
			t.Error("Primary() should return the primary transcriber")
		}
	})

	t.Run("degrades to fallback when primary is unhealthy", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: false}
		fallback := &MockTranscriberForDegradation{name: "fallback", healthy: true}

		hc := health.NewHealthChecker(primary, 1*time.Hour, 1)
		controller := NewDegradationController(primary, fallback, hc)

		hc.CheckNow(context.Background())

		if name := controller.GetTranscriber().Name(); name != "fallback" {
			t.Errorf("After degradation: transcriber = %q, want %q", name, "fallback")
		}
		if !controller.IsDegraded() {
			t.Error("Should be in degraded state")
		}
		if v := degradedGauge(t); v != 1 {
			t.Errorf("Degraded gauge = %f, want 1", v)
		}
	})

	t.Run("recovers to primary when health is restored", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: false}
		fallback := &MockTranscriberForDegradation{name: "fallback", healthy: true}

		hc := health.NewHealthChecker(primary, 1*time.Hour, 1)
		controller := NewDegradationController(primary, fallback, hc)

		hc.CheckNow(context.Background())
		if controller.GetTranscriber().Name() != "fallback" {
			t.Fatal("Should be degraded to fallback")
		}

		primary.SetHealthy(true)
		hc.CheckNow(context.Background())

		if name := controller.GetTranscriber().Name(); name != "primary" {
			t.Errorf("After recovery: transcriber = %q, want %q", name, "primary")
		}
		if controller.IsDegraded() {
			t.Error("Should not be degraded after recovery")
		}
		if v := degradedGauge(t); v != 0 {
			t.Errorf("Degraded gauge = %f, want 0", v)
		}
	})

	t.Run("transcribe uses correct implementation", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary-impl", healthy: true}
		fallback := &MockTranscriberForDegradation{name: "fallback-impl", healthy: true}

		hc := health.NewHealthChecker(primary, 1*time.Hour, 3)
		controller := NewDegradationController(primary, fallback, hc)

		result, err := controller.GetTranscriber().Transcribe(context.Background(), "/test/audio.wav", nil)
		if err != nil {
			t.Fatalf("Transcribe error: %v", err)
		}
		if result.Text != "transcribed by primary-impl" {
			t.Errorf("Primary transcription text = %q", result.Text)
		}
	})

	t.Run("background checker drives degradation", func(t *testing.T) {
		primary := &MockTranscriberForDegradation{name: "primary", healthy: true}
		fallback := &MockTranscriberForDegradation{name: "fallback", healthy: true}

		hc := health.NewHealthChecker(primary, 10*time.Millisecond, 1)
		controller := NewDegradationController(primary, fallback, hc)

		go hc.Start(context.Background())
		defer hc.Stop()

		for cycle := 0; cycle < 2; cycle++ {
			primary.SetHealthy(false)
			waitFor(t, func() bool { return controller.GetTranscriber().Name() == "fallback" })

			primary.SetHealthy(true)
			waitFor(t, func() bool { return controller.GetTranscriber().Name() == "primary" })
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
